package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables holding secrets. They are never written to the
// config file.
const (
	EnvJWTSecret     = "LOANFLOW_JWT_SECRET"
	EnvS3AccessKey   = "LOANFLOW_S3_ACCESS_KEY"
	EnvS3SecretKey   = "LOANFLOW_S3_SECRET_KEY"
	EnvPostgresDSN   = "LOANFLOW_POSTGRES_DSN"
	EnvRedisPassword = "LOANFLOW_REDIS_PASSWORD"
	EnvSMTPPassword  = "LOANFLOW_SMTP_PASSWORD"
)

// LoadEnv loads KEY=VALUE pairs from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv copies secrets from the environment into cfg.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.Identity.JWTSecret, EnvJWTSecret)
	set(&cfg.Identity.RedisPassword, EnvRedisPassword)
	set(&cfg.ObjectStore.S3AccessKey, EnvS3AccessKey)
	set(&cfg.ObjectStore.S3SecretKey, EnvS3SecretKey)
	set(&cfg.DocumentStore.DSN, EnvPostgresDSN)
	set(&cfg.Notify.SMTPPassword, EnvSMTPPassword)
}
