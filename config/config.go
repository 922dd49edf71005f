package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr        string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	DatabaseURL       string
	TempDir           string
	MaxConcurrentJobs int
	DefaultUserLimit  int
	MaxRetries        int
	ProgressBuffer    int
	WebhookTimeout    time.Duration
	ProcessingTimeout time.Duration
	RetentionDays     int
	CleanupInterval   time.Duration
	GotenbergURL      string
	S3Bucket          string
	S3Region          string
	S3AccessKey       string
	S3SecretKey       string
	S3Endpoint        string
	S3UsePathStyle    bool
	ExportFolderName  string
}

func Load() *Config {
	dbHost := getEnv("DB_HOST", "")
	dbPort := getEnv("DB_PORT", "5432")
	dbName := getEnv("DB_DATABASE", "convertd")
	dbUser := getEnv("DB_USERNAME", "convertd")
	dbPassword := getEnv("DB_PASSWORD", "")
	dbSSLMode := getEnv("DB_SSLMODE", "disable")
	dbSSLCert := getEnv("DB_SSLCERT", "")
	dbSSLKey := getEnv("DB_SSLKEY", "")
	dbSSLRootCert := getEnv("DB_SSLROOTCERT", "")

	// lib/pq supports "key=value" connection strings and this avoids
	// URI escaping issues for special characters in passwords.
	// An empty DB_HOST leaves DatabaseURL empty; the service then runs
	// on the in-memory store.
	var dbURL string
	if dbHost != "" {
		if dbPassword != "" {
			dbURL = fmt.Sprintf(
				"host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
				dbHost, dbPort, dbName, dbUser, dbPassword, dbSSLMode,
			)
		} else {
			dbURL = fmt.Sprintf(
				"host=%s port=%s dbname=%s user=%s sslmode=%s",
				dbHost, dbPort, dbName, dbUser, dbSSLMode,
			)
		}

		if dbSSLCert != "" {
			dbURL += fmt.Sprintf(" sslcert=%s", dbSSLCert)
		}
		if dbSSLKey != "" {
			dbURL += fmt.Sprintf(" sslkey=%s", dbSSLKey)
		}
		if dbSSLRootCert != "" {
			dbURL += fmt.Sprintf(" sslrootcert=%s", dbSSLRootCert)
		}
	}

	return &Config{
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_CONVERSION_DB", 3),
		DatabaseURL:       dbURL,
		TempDir:           getEnv("JOB_TEMP_DIR", filepath.Join(os.TempDir(), "convertd", "jobs")),
		MaxConcurrentJobs: getEnvInt("MAX_CONCURRENT_JOBS", 10),
		DefaultUserLimit:  getEnvInt("DEFAULT_USER_JOB_LIMIT", 5),
		MaxRetries:        getEnvInt("MAX_RETRIES", 3),
		ProgressBuffer:    getEnvInt("PROGRESS_BUFFER", 100),
		WebhookTimeout:    time.Duration(getEnvInt("WEBHOOK_TIMEOUT", 10)) * time.Second,
		ProcessingTimeout: time.Duration(getEnvInt("PROCESSING_TIMEOUT", 600)) * time.Second,
		RetentionDays:     getEnvInt("JOB_RETENTION_DAYS", 7),
		CleanupInterval:   time.Duration(getEnvInt("CLEANUP_INTERVAL", 300)) * time.Second,
		GotenbergURL:      getEnv("GOTENBERG_URL", ""),
		S3Bucket:          getEnv("S3_BUCKET", ""),
		// Prefer unified S3_* vars, fall back to legacy AWS_* vars for compatibility
		S3Region:         getEnvWithFallback("S3_REGION", "AWS_DEFAULT_REGION", "us-east-1"),
		S3AccessKey:      getEnvWithFallback("S3_KEY", "AWS_ACCESS_KEY_ID", ""),
		S3SecretKey:      getEnvWithFallback("S3_SECRET", "AWS_SECRET_ACCESS_KEY", ""),
		S3Endpoint:       getEnv("S3_ENDPOINT", ""),
		S3UsePathStyle:   getEnvBool("S3_USE_PATH_STYLE_ENDPOINT", false),
		ExportFolderName: getEnv("EXPORT_FOLDER_NAME", "convertd"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvWithFallback(primaryKey, secondaryKey, fallback string) string {
	if value := os.Getenv(primaryKey); value != "" {
		return value
	}
	if value := os.Getenv(secondaryKey); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}
