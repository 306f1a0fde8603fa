package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode     Mode
	HTTPAddr string
	SiteID   string

	DBDriver string
	DBDSN    string

	BlobBasePath string // proof-of-completion artifacts

	AuthSecret      string
	EnableLocalAuth bool
	// Trust the token's role claim when the directory has no entry.
	ClaimRoleFallback bool
	// Seeded on startup when both are set.
	AdminUsername string
	AdminPassword string

	CORSOriginsOnline  []string
	CORSOriginsOffline []string

	// Grading
	PassThreshold float64

	// Audit sink
	AuditBuffer int

	LogLevel string

	RequestTimeout time.Duration
}

func FromEnv() Config {
	mode := Mode(os.Getenv("MODE"))
	if mode == "" {
		mode = ModeOffline
	}
	return Config{
		Mode:               mode,
		HTTPAddr:           envOr("HTTP_ADDR", ":8080"),
		SiteID:             envOr("SITE_ID", "local"),
		DBDriver:           envOr("DB_DRIVER", "sqlite"),
		DBDSN:              envOr("DB_DSN", ""),
		BlobBasePath:       envOr("BLOB_BASE_PATH", "./data"),
		AuthSecret:         envOr("AUTH_HMAC_SECRET", "supersecret-dev-key"),
		EnableLocalAuth:    envBool("ENABLE_LOCAL_AUTH", true),
		ClaimRoleFallback:  envBool("CLAIM_ROLE_FALLBACK", mode == ModeOffline),
		AdminUsername:      envOr("ADMIN_USERNAME", ""),
		AdminPassword:      envOr("ADMIN_PASSWORD", ""),
		CORSOriginsOnline:  csvOr("CORS_ORIGINS_ONLINE", "https://training.mindengage.ai"),
		CORSOriginsOffline: csvOr("CORS_ORIGINS_OFFLINE", "http://localhost:3000,http://localhost:3010"),
		PassThreshold:      envFloat("PASS_THRESHOLD", 70),
		AuditBuffer:        envInt("AUDIT_BUFFER", 256),
		LogLevel:           envOr("LOG_LEVEL", "info"),
		RequestTimeout:     envDuration("REQUEST_TIMEOUT", 30*time.Second),
	}
}

// CORSOrigins returns the allow-list for the configured mode.
func (c Config) CORSOrigins() []string {
	if c.Mode == ModeOnline {
		return c.CORSOriginsOnline
	}
	return c.CORSOriginsOffline
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}

func envInt(k string, def int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(k))); err == nil {
		return v
	}
	return def
}

func envFloat(k string, def float64) float64 {
	if v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(k)), 64); err == nil {
		return v
	}
	return def
}

func envDuration(k string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(k))); err == nil {
		return v
	}
	return def
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
