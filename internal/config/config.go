package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL string        // FBUTIL_DATABASE_URL (optional, empty = in-memory datastore)
	Schema      string        // FBUTIL_SCHEMA (path to a JSON or TOML schema file)
	Validate    bool          // FBUTIL_VALIDATE (default true)
	GRPCAddr    string        // FBUTIL_GRPC_ADDR (default ":9090")
	HTTPAddr    string        // FBUTIL_HTTP_ADDR (default ":8080")
	NATSURL     string        // FBUTIL_NATS_URL (optional, empty = no events)
	AuthToken   string        // FBUTIL_AUTH_TOKEN (optional, empty = auth disabled)
	JWTSecret   string        // FBUTIL_JWT_SECRET (optional, enables login sessions)
	JWTTTL      time.Duration // FBUTIL_JWT_TTL (default 24h)

	// Object storage
	S3Bucket    string // FBUTIL_S3_BUCKET (enables storage when set)
	S3Endpoint  string // FBUTIL_S3_ENDPOINT (custom endpoint for MinIO)
	S3Region    string // FBUTIL_S3_REGION (default "us-east-1")
	S3PublicURL string // FBUTIL_S3_PUBLIC_URL (base for public links)

	// Sync settings
	SyncInterval time.Duration // FBUTIL_SYNC_INTERVAL (default 3m; 0 = disabled)
	SyncKey      string        // FBUTIL_SYNC_KEY (default "fbutil/backup.jsonl")
	SyncFile     string        // FBUTIL_SYNC_FILE (enables a local backup when set)
}

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL: os.Getenv("FBUTIL_DATABASE_URL"),
		Schema:      os.Getenv("FBUTIL_SCHEMA"),
		GRPCAddr:    envOrDefault("FBUTIL_GRPC_ADDR", ":9090"),
		HTTPAddr:    envOrDefault("FBUTIL_HTTP_ADDR", ":8080"),
		NATSURL:     os.Getenv("FBUTIL_NATS_URL"),
		AuthToken:   os.Getenv("FBUTIL_AUTH_TOKEN"),
		JWTSecret:   os.Getenv("FBUTIL_JWT_SECRET"),
		S3Bucket:    os.Getenv("FBUTIL_S3_BUCKET"),
		S3Endpoint:  os.Getenv("FBUTIL_S3_ENDPOINT"),
		S3Region:    envOrDefault("FBUTIL_S3_REGION", "us-east-1"),
		S3PublicURL: os.Getenv("FBUTIL_S3_PUBLIC_URL"),
		SyncKey:     envOrDefault("FBUTIL_SYNC_KEY", "fbutil/backup.jsonl"),
		SyncFile:    os.Getenv("FBUTIL_SYNC_FILE"),
	}

	validate, err := strconv.ParseBool(envOrDefault("FBUTIL_VALIDATE", "true"))
	if err != nil {
		return nil, fmt.Errorf("FBUTIL_VALIDATE: %w", err)
	}
	c.Validate = validate

	if c.SyncInterval, err = duration("FBUTIL_SYNC_INTERVAL", "3m"); err != nil {
		return nil, err
	}
	if c.JWTTTL, err = duration("FBUTIL_JWT_TTL", "24h"); err != nil {
		return nil, err
	}
	return c, nil
}

// Memory reports whether no database is configured.
func (c *Config) Memory() bool { return c.DatabaseURL == "" }

func duration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
