package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ──────────────────────────────────────────────────────────────────────
// Process configuration. Everything is read once at startup into an
// explicit record passed down from main — nothing lives at module
// scope. Secrets come only from the environment.
// ──────────────────────────────────────────────────────────────────────

// Config is the full process configuration.
type Config struct {
	DatabaseURL    string
	Port           string
	APIAuthToken   string
	AllowedOrigins string

	ManifestDir      string
	ManifestS3Bucket string

	WorkerCount        int
	WorkerPollInterval time.Duration
	StageTimeout       time.Duration
	MaxAttempts        int

	ReviewSLA     time.Duration
	StuckJobBound time.Duration

	// AnnexIIFromDB switches the Annex II exemption check from the
	// static seed list to the database table.
	AnnexIIFromDB bool

	Sources map[string]SourceConfig
}

// SourceConfig is per-watcher cadence and trust configuration.
type SourceConfig struct {
	Cadence time.Duration
	Domains []string
}

// UnmarshalYAML accepts cadence as a Go duration string ("6h", "30m").
func (sc *SourceConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Cadence string   `yaml:"cadence"`
		Domains []string `yaml:"domains"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.Cadence != "" {
		d, err := time.ParseDuration(raw.Cadence)
		if err != nil {
			return fmt.Errorf("invalid cadence %q: %v", raw.Cadence, err)
		}
		sc.Cadence = d
	}
	sc.Domains = raw.Domains
	return nil
}

// sourcesFile is the YAML shape of SOURCES_FILE.
type sourcesFile struct {
	Sources map[string]SourceConfig `yaml:"sources"`
}

// defaultSources is the built-in source catalog: exhaustive domain
// allowlists and the polling cadence each source publishes at.
func defaultSources() map[string]SourceConfig {
	return map[string]SourceConfig{
		"federal_register": {
			Cadence: 24 * time.Hour,
			Domains: []string{"federalregister.gov", "govinfo.gov"},
		},
		"cbp_csms": {
			Cadence: 30 * 24 * time.Hour,
			Domains: []string{"content.govdelivery.com", "cbp.gov"},
		},
		"usitc": {
			Cadence: 365 * 24 * time.Hour,
			Domains: []string{"hts.usitc.gov", "usitc.gov"},
		},
	}
}

// Load reads configuration from the environment plus an optional
// SOURCES_FILE YAML overriding the built-in source catalog.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		Port:           envOr("PORT", "5440"),
		APIAuthToken:   os.Getenv("API_AUTH_TOKEN"),
		AllowedOrigins: os.Getenv("ALLOWED_ORIGINS"),

		ManifestDir:      envOr("MANIFEST_DIR", "manifests"),
		ManifestS3Bucket: os.Getenv("MANIFEST_S3_BUCKET"),

		WorkerCount:        envInt("WORKER_COUNT", 2),
		WorkerPollInterval: envDuration("WORKER_POLL_INTERVAL", 5*time.Second),
		StageTimeout:       envDuration("STAGE_TIMEOUT", 2*time.Minute),
		MaxAttempts:        envInt("MAX_ATTEMPTS", 5),

		ReviewSLA:     envDuration("REVIEW_SLA", 48*time.Hour),
		StuckJobBound: envDuration("STUCK_JOB_BOUND", 30*time.Minute),

		AnnexIIFromDB: os.Getenv("ANNEX2_FROM_DB") == "true",

		Sources: defaultSources(),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if path := os.Getenv("SOURCES_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read SOURCES_FILE: %v", err)
		}
		var sf sourcesFile
		if err := yaml.Unmarshal(raw, &sf); err != nil {
			return nil, fmt.Errorf("parse SOURCES_FILE: %v", err)
		}
		for name, sc := range sf.Sources {
			base := cfg.Sources[name]
			if sc.Cadence > 0 {
				base.Cadence = sc.Cadence
			}
			if len(sc.Domains) > 0 {
				base.Domains = sc.Domains
			}
			cfg.Sources[name] = base
		}
	}

	return cfg, nil
}

// Allowlists returns the per-source trusted-domain map for the fetcher.
func (c *Config) Allowlists() map[string][]string {
	out := make(map[string][]string, len(c.Sources))
	for name, sc := range c.Sources {
		out[name] = sc.Domains
	}
	return out
}

// Cadences returns the per-source polling cadence map for the scheduler.
func (c *Config) Cadences() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.Sources))
	for name, sc := range c.Sources {
		out[name] = sc.Cadence
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
