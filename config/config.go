package config

import (
	"os"
	"strconv"
	"strings"
)

// Config carries all environment-driven settings for the API process.
type Config struct {
	HTTPAddr    string
	DatabaseURL string
	JWTSecret   string

	// FeePercent is the platform cut applied when presenting a payout to an
	// operator. It never drives an automatic transfer.
	FeePercent float64

	// Payment processor credentials and endpoint.
	ProcessorBaseURL   string
	ProcessorSecretKey string

	// Optional collaborators. Empty values disable the integration.
	RedisAddr    string
	KafkaBrokers []string

	// EvidenceDir is where the local evidence store writes uploaded media.
	EvidenceDir string
	// EvidenceBaseURL prefixes the references handed back to callers.
	EvidenceBaseURL string
}

func Load() Config {
	return Config{
		HTTPAddr:           getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		JWTSecret:          getenv("JWT_SECRET", "dev-secret-change-me"),
		FeePercent:         getenvFloat("FEE_PERCENT", 5),
		ProcessorBaseURL:   getenv("PROCESSOR_BASE_URL", "https://api.omise.co"),
		ProcessorSecretKey: os.Getenv("PROCESSOR_SECRET_KEY"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		KafkaBrokers:       splitCSV(os.Getenv("KAFKA_BROKERS")),
		EvidenceDir:        getenv("EVIDENCE_DIR", "./data/evidence"),
		EvidenceBaseURL:    getenv("EVIDENCE_BASE_URL", "/media"),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvFloat(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
