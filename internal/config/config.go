// Package config loads the process configuration from the environment.
// Every knob has a sane default for local use; TABLEPORT_* variables
// override them. Credentials for cloud backends follow the conventions
// of their ecosystems (AWS_* fallbacks for s3).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	GS            ObjectStoreConfig
	S3            ObjectStoreConfig
	BigQuery      BigQueryConfig
	Temporary     TemporaryConfig
	Observability ObservabilityConfig
}

// ObjectStoreConfig covers one S3-compatible endpoint. The gs scheme
// talks to Google Cloud Storage through its interoperability endpoint
// with HMAC credentials.
type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	AutoCreateBucket bool
}

type BigQueryConfig struct {
	// BaseURL points at the v2 REST endpoint; tests override it.
	BaseURL string
	// Token is an OAuth2 bearer token, e.g. from
	// `gcloud auth print-access-token`.
	Token        string
	Timeout      time.Duration
	PollInterval time.Duration
}

type TemporaryConfig struct {
	// Storage lists scratch locator URLs used when the command line
	// passes no --temporary flags.
	Storage []string
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
	// MetricsAddr enables the Prometheus listener when non-empty.
	MetricsAddr string
}

func LoadFromEnv() (Config, error) {
	return Load(os.LookupEnv)
}

func Load(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := defaults()

	if raw, ok := lookup("AWS_ACCESS_KEY_ID"); ok {
		cfg.S3.AccessKeyID = strings.TrimSpace(raw)
	}
	if raw, ok := lookup("AWS_SECRET_ACCESS_KEY"); ok {
		cfg.S3.SecretAccessKey = strings.TrimSpace(raw)
	}
	if raw, ok := lookup("AWS_REGION"); ok {
		cfg.S3.Region = strings.TrimSpace(raw)
	}

	if err := applyString(lookup, "TABLEPORT_GS_ENDPOINT", &cfg.GS.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLEPORT_GS_REGION", &cfg.GS.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLEPORT_GS_ACCESS_KEY", &cfg.GS.AccessKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLEPORT_GS_SECRET_KEY", &cfg.GS.SecretAccessKey); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "TABLEPORT_GS_USE_SSL", &cfg.GS.UseSSL); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "TABLEPORT_GS_AUTO_CREATE_BUCKET", &cfg.GS.AutoCreateBucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLEPORT_S3_ENDPOINT", &cfg.S3.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLEPORT_S3_REGION", &cfg.S3.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLEPORT_S3_ACCESS_KEY", &cfg.S3.AccessKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLEPORT_S3_SECRET_KEY", &cfg.S3.SecretAccessKey); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "TABLEPORT_S3_USE_SSL", &cfg.S3.UseSSL); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "TABLEPORT_S3_AUTO_CREATE_BUCKET", &cfg.S3.AutoCreateBucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLEPORT_BIGQUERY_BASE_URL", &cfg.BigQuery.BaseURL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLEPORT_BIGQUERY_TOKEN", &cfg.BigQuery.Token); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "TABLEPORT_BIGQUERY_TIMEOUT", &cfg.BigQuery.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "TABLEPORT_BIGQUERY_POLL_INTERVAL", &cfg.BigQuery.PollInterval); err != nil {
		return Config{}, err
	}
	if err := applyStringList(lookup, "TABLEPORT_TEMPORARY_STORAGE", &cfg.Temporary.Storage); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "TABLEPORT_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "TABLEPORT_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "TABLEPORT_METRICS_ADDR", &cfg.Observability.MetricsAddr); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func defaults() Config {
	return Config{
		GS: ObjectStoreConfig{
			Endpoint: "https://storage.googleapis.com",
			UseSSL:   true,
		},
		S3: ObjectStoreConfig{
			Endpoint: "s3.amazonaws.com",
			Region:   "us-east-1",
			UseSSL:   true,
		},
		BigQuery: BigQueryConfig{
			Timeout:      60 * time.Second,
			PollInterval: 500 * time.Millisecond,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelInfo,
			LogJSON:  false,
		},
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyStringList(lookup LookupFunc, key string, dst *[]string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	var values []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			values = append(values, item)
		}
	}
	*dst = values
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
