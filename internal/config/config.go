// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Server holds export server configuration.
type Server struct {
	ListenAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Directory tree served over the API
	ExportRoot string

	// Auth
	JWTSecret    string
	AuthUser     string
	AuthPassword string
	TokenTTL     time.Duration

	// TLS (optional, if both set the server uses HTTPS)
	TLSCertFile string
	TLSKeyFile  string
}

// LoadServer reads server configuration from environment variables.
func LoadServer() (*Server, error) {
	cfg := &Server{
		ListenAddr:   envOr("SLATEFS_LISTEN_ADDR", ":8080"),
		LogLevel:     envOr("SLATEFS_LOG_LEVEL", "info"),
		LogFormat:    envOr("SLATEFS_LOG_FORMAT", "json"),
		ExportRoot:   envOr("SLATEFS_EXPORT_ROOT", ""),
		JWTSecret:    envOr("SLATEFS_JWT_SECRET", ""),
		AuthUser:     envOr("SLATEFS_AUTH_USER", "slate"),
		AuthPassword: envOr("SLATEFS_AUTH_PASSWORD", ""),
		TokenTTL:     time.Duration(envInt64("SLATEFS_TOKEN_TTL_SEC", 24*3600)) * time.Second,
		TLSCertFile:  envOr("SLATEFS_TLS_CERT_FILE", ""),
		TLSKeyFile:   envOr("SLATEFS_TLS_KEY_FILE", ""),
	}

	if cfg.ExportRoot == "" {
		return nil, fmt.Errorf("SLATEFS_EXPORT_ROOT is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("SLATEFS_JWT_SECRET is required")
	}
	if cfg.AuthPassword == "" {
		return nil, fmt.Errorf("SLATEFS_AUTH_PASSWORD is required")
	}
	return cfg, nil
}

// Mount holds mount client configuration.
type Mount struct {
	// Logging
	LogLevel  string
	LogFormat string

	// Backend ("remote" or "s3", default: "remote")
	Backend string

	// Remote backend
	ServerURL string
	TokenFile string

	// S3 backend
	S3Endpoint  string
	S3Bucket    string
	S3Prefix    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool
}

// LoadMount reads mount client configuration from environment variables.
func LoadMount() (*Mount, error) {
	cfg := &Mount{
		LogLevel:    envOr("SLATEFS_LOG_LEVEL", "info"),
		LogFormat:   envOr("SLATEFS_LOG_FORMAT", "console"),
		Backend:     envOr("SLATEFS_BACKEND", "remote"),
		ServerURL:   envOr("SLATEFS_SERVER_URL", "http://localhost:8080"),
		TokenFile:   envOr("SLATEFS_TOKEN_FILE", defaultTokenFile()),
		S3Endpoint:  envOr("SLATEFS_S3_ENDPOINT", ""),
		S3Bucket:    envOr("SLATEFS_S3_BUCKET", ""),
		S3Prefix:    envOr("SLATEFS_S3_PREFIX", ""),
		S3AccessKey: envOr("SLATEFS_S3_ACCESS_KEY", ""),
		S3SecretKey: envOr("SLATEFS_S3_SECRET_KEY", ""),
		S3Region:    envOr("SLATEFS_S3_REGION", "us-east-1"),
		S3UseSSL:    envBool("SLATEFS_S3_USE_SSL", true),
	}

	switch cfg.Backend {
	case "remote", "s3":
	default:
		return nil, fmt.Errorf("SLATEFS_BACKEND must be \"remote\" or \"s3\", got %q", cfg.Backend)
	}
	if cfg.Backend == "s3" && cfg.S3Bucket == "" {
		return nil, fmt.Errorf("SLATEFS_S3_BUCKET is required for the s3 backend")
	}
	return cfg, nil
}

func defaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".slatefs-token"
	}
	return home + "/.slatefs-token"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
