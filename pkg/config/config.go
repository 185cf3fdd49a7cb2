// Package config loads process configuration from the environment. No
// configuration framework is used — plain env vars with fixed defaults,
// matching the rest of the ambient stack.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds orchestrator process configuration.
type Config struct {
	Port     string
	LogLevel string

	// DatabaseURL selects the Postgres-backed approval store when set
	// (RedisAddr, when also set, takes precedence). When empty the
	// process runs in Lite Mode: a SQLite database is opened for the
	// dedup table, and approvals use the in-memory store unless
	// RedisAddr is set.
	DatabaseURL string

	// RedisAddr selects the Redis-backed approval store and event
	// stream broker when set. When empty, in-memory implementations are
	// used — suitable for a single process / tests.
	RedisAddr     string
	RedisPassword string

	// Evidence pack storage sink: "file" (default), "s3", or "gcs".
	EvidenceSink   string
	EvidenceDir    string
	EvidenceBucket string

	OTLPEndpoint string
	OTLPInsecure bool

	DefaultApprovalTTL time.Duration

	ServiceName    string
	ServiceVersion string
}

// Load reads configuration from the environment, applying production
// defaults for anything unset.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	evidenceSink := os.Getenv("EVIDENCE_SINK")
	if evidenceSink == "" {
		evidenceSink = "file"
	}

	evidenceDir := os.Getenv("EVIDENCE_DIR")
	if evidenceDir == "" {
		evidenceDir = "./storage/evidence"
	}

	otlpEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}

	ttl := 3600 * time.Second
	if v := os.Getenv("DEFAULT_APPROVAL_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ttl = time.Duration(n) * time.Second
		}
	}

	serviceVersion := os.Getenv("SERVICE_VERSION")
	if serviceVersion == "" {
		serviceVersion = "0.1.0"
	}

	return &Config{
		Port:               port,
		LogLevel:           logLevel,
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		EvidenceSink:       evidenceSink,
		EvidenceDir:        evidenceDir,
		EvidenceBucket:     os.Getenv("EVIDENCE_BUCKET"),
		OTLPEndpoint:       otlpEndpoint,
		OTLPInsecure:       os.Getenv("OTEL_INSECURE") == "true",
		DefaultApprovalTTL: ttl,
		ServiceName:        "orchestrator",
		ServiceVersion:     serviceVersion,
	}
}

// LiteMode reports whether the process should run without external
// Postgres/Redis dependencies (SQLite + in-memory stores).
func (c *Config) LiteMode() bool {
	return c.DatabaseURL == ""
}
