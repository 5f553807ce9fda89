package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds application configuration.
type Config struct {
	Port               string
	Env                string
	CORSAllowOrigin    []string
	UploadDir          string
	OutputStoreType    string
	OutputDir          string
	AWSRegion          string
	S3Bucket           string
	S3Prefix           string
	SSEKMSKeyID        string
	MaxUploadMB        int
	SlideNumbering     string
	MergeRatePerMinute int
	ShutdownTimeoutSec int
	LogLevel           string
	LogPath            string
	LogMaxSizeMB       int
	LogMaxBackups      int
	LogMaxAgeDays      int
	LogCompress        bool
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	return Config{
		Port:               getEnv("PORT", "3000"),
		Env:                normalizeEnv(getEnv("ENV", "dev")),
		CORSAllowOrigin:    splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "*")),
		UploadDir:          getEnv("UPLOAD_DIR", "uploads"),
		OutputStoreType:    normalizeStoreType(getEnv("OUTPUT_STORE", "local")),
		OutputDir:          getEnv("OUTPUT_DIR", "public/output"),
		AWSRegion:          getEnv("AWS_REGION", ""),
		S3Bucket:           getEnv("S3_BUCKET", ""),
		S3Prefix:           getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:        getEnv("SSE_KMS_KEY_ID", ""),
		MaxUploadMB:        getEnvInt("MAX_UPLOAD_MB", 200),
		SlideNumbering:     normalizeNumbering(getEnv("SLIDE_NUMBERING", "listing")),
		MergeRatePerMinute: getEnvInt("MERGE_RATE_PER_MINUTE", 0),
		ShutdownTimeoutSec: getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 30),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogPath:            getEnv("LOG_PATH", ""),
		LogMaxSizeMB:       getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups:      getEnvInt("LOG_MAX_BACKUPS", 3),
		LogMaxAgeDays:      getEnvInt("LOG_MAX_AGE_DAYS", 7),
		LogCompress:        getEnvBool("LOG_COMPRESS", false),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}

func getEnvBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeNumbering(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "dense":
		return "dense"
	default:
		return "listing"
	}
}
