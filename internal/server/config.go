package server

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	CORS       CORSConfig       `yaml:"cors" json:"cors"`
	Simulation SimulationConfig `yaml:"simulation" json:"simulation"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// CORSConfig lists the frontend origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowedOrigins"`
}

// SimulationConfig bounds the integration schedules. These are
// operator tuning knobs; the defaults are the reference schedule and
// the simulation semantics never depend on them.
type SimulationConfig struct {
	TotalTimeS            float64 `yaml:"total_time_s" json:"totalTimeS"`
	SamplesPerCycle       int     `yaml:"samples_per_cycle" json:"samplesPerCycle"`
	SpontaneousIterations int     `yaml:"spontaneous_iterations" json:"spontaneousIterations"`
	SpontaneousSamples    int     `yaml:"spontaneous_samples" json:"spontaneousSamples"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8000",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Simulation: SimulationConfig{
			TotalTimeS:            30.0,
			SamplesPerCycle:       200,
			SpontaneousIterations: 30,
			SpontaneousSamples:    100,
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and
// environment variable overrides. Falls back to defaults if the YAML
// is missing or malformed.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		val = strings.Trim(val, `"'`)
		// Only set if not already set in real env (real env takes precedence)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config
// values. Supported: LISTEN_ADDR, CORS_ORIGINS (comma-separated),
// SIM_TOTAL_TIME_S, SIM_SAMPLES_PER_CYCLE, SIM_SPONT_ITERATIONS,
// SIM_SPONT_SAMPLES.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.CORS.AllowedOrigins = origins
	}
	if v := os.Getenv("SIM_TOTAL_TIME_S"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.Simulation.TotalTimeS = n
		}
	}
	if v := os.Getenv("SIM_SAMPLES_PER_CYCLE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Simulation.SamplesPerCycle = n
		}
	}
	if v := os.Getenv("SIM_SPONT_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Simulation.SpontaneousIterations = n
		}
	}
	if v := os.Getenv("SIM_SPONT_SAMPLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Simulation.SpontaneousSamples = n
		}
	}
}
