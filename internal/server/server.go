package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/julianestebanquintana/simulador-fisiologia-pulmonar/internal/lung"
	"github.com/julianestebanquintana/simulador-fisiologia-pulmonar/internal/sim"
)

// Server exposes the simulation API over HTTP.
type Server struct {
	cfg *Config
}

// New creates a new Server.
func New(cfg *Config) *Server {
	return &Server{cfg: cfg}
}

// Handler builds the full HTTP handler: routes plus the CORS and
// request-logging middleware. Exposed separately from Run so tests can
// drive it with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Versioned route plus the bare one kept for older callers.
	mux.HandleFunc("/api/simulate", s.handleSimulate)
	mux.HandleFunc("/simulate", s.handleSimulate)
	mux.HandleFunc("/healthz", s.handleHealth)

	return s.logRequests(s.cors(mux))
}

// Run starts the HTTP server and blocks until the context is cancelled
// or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// statusWriter records the status code for the request log.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// logRequests logs method, path, status and duration of every request
// under a short per-request id.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := uuid.NewString()[:8]
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		log.Printf("[server] %s %s %s -> %d (%s)", rid, r.Method, r.URL.Path, sw.status, time.Since(start).Round(time.Millisecond))
	})
}

// cors answers preflight requests and stamps the allowed origin on
// every response when the caller's origin is configured.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "*")
			h.Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.cfg.CORS.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"service": "pulmosim", "status": "ok"})
}

// handleSimulate runs a full simulation for a POSTed parameter set.
// Parameter problems return 400 with a human-readable detail;
// computation failures return a generic 500.
func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeDetail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req simulateRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	pp, vp, fp := req.params()
	opts := sim.Options{
		TotalTime:             s.cfg.Simulation.TotalTimeS,
		SamplesPerCycle:       s.cfg.Simulation.SamplesPerCycle,
		SpontaneousIterations: s.cfg.Simulation.SpontaneousIterations,
		SpontaneousSamples:    s.cfg.Simulation.SpontaneousSamples,
	}

	bundle, err := sim.Run(pp, vp, fp, opts)
	if err != nil {
		if errors.Is(err, lung.ErrParam) {
			writeDetail(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("[server] simulation failed: %v", err)
		writeDetail(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, bundle)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] write response: %v", err)
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
