package lung

import (
	"errors"
	"fmt"
)

// ErrParam marks invalid construction parameters. The HTTP layer maps
// errors wrapping it to a 400 response.
var ErrParam = errors.New("invalid parameter")

// Patient holds the passive mechanics of a two-compartment lung:
// airway resistances in cmH2O·s/L and compliances in L/cmH2O. The
// elastances are derived once at construction and the struct is
// immutable afterwards.
type Patient struct {
	R1 float64 // resistance of compartment 1 (cmH2O·s/L)
	C1 float64 // compliance of compartment 1 (L/cmH2O)
	R2 float64 // resistance of compartment 2 (cmH2O·s/L)
	C2 float64 // compliance of compartment 2 (L/cmH2O)
	E1 float64 // elastance 1/C1 (cmH2O/L)
	E2 float64 // elastance 1/C2 (cmH2O/L)
}

// NewPatient validates the mechanics parameters and derives elastances.
// All four parameters must be strictly positive.
func NewPatient(r1, c1, r2, c2 float64) (*Patient, error) {
	for _, p := range []struct {
		name string
		val  float64
	}{
		{"R1", r1}, {"C1", c1}, {"R2", r2}, {"C2", c2},
	} {
		if p.val <= 0 {
			return nil, fmt.Errorf("%w: %s must be > 0, got %g", ErrParam, p.name, p.val)
		}
	}
	return &Patient{
		R1: r1, C1: c1, R2: r2, C2: c2,
		E1: 1 / c1, E2: 1 / c2,
	}, nil
}
