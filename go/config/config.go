// Package config defines the process-wide configuration of the data-manager.
// A Config is constructed once at startup and passed explicitly into the
// components which need it.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/eocis-portal/data-manager/go/skerr"
)

// Environment variable names understood by FromEnv.
const (
	EnvDatabaseURL           = "DATAMANAGER_DATABASE_URL"
	EnvOutputPath            = "DATAMANAGER_OUTPUT_PATH"
	EnvOutputFilenamePattern = "DATAMANAGER_OUTPUT_FILENAME_PATTERN"
	EnvTaskQuota             = "DATAMANAGER_TASK_QUOTA"
	EnvJobQuota              = "DATAMANAGER_JOB_QUOTA"
	EnvCleanupAfterSecs      = "DATAMANAGER_CLEANUP_AFTER_SECS"
	EnvMaxTaskRetries        = "DATAMANAGER_MAX_TASK_RETRIES"
	EnvTransactionTimeout    = "DATAMANAGER_TRANSACTION_TIMEOUT_SECS"
)

// Config holds the process-wide configuration.
type Config struct {
	// DatabaseURL is the connection string of the backing database.
	DatabaseURL string

	// OutputPath is the root directory under which per-job output folders
	// are created.
	OutputPath string

	// OutputFilenamePattern is the template for output file names. The
	// {LEVEL}, {PRODUCT} and {VERSION} placeholders are substituted when
	// tasks are created; the date placeholders {Y}{m}{d}{H}{M}{S} are left
	// for the worker.
	OutputFilenamePattern string

	// TaskQuota is the advisory cap on concurrently running tasks.
	TaskQuota int

	// JobQuota is the advisory cap on concurrently running jobs.
	JobQuota int

	// CleanupAfter is the retention window for a job after completion or
	// failure.
	CleanupAfter time.Duration

	// MaxTaskRetries is the ceiling on a task's retry count.
	MaxTaskRetries int

	// TransactionTimeout bounds the wait for acquiring a database
	// connection.
	TransactionTimeout time.Duration
}

// Default returns a Config with default values, suitable for development.
func Default() *Config {
	return &Config{
		DatabaseURL:           "postgresql://eocis@localhost:5432/eocis?sslmode=disable",
		OutputPath:            "/data/data_service/joboutput",
		OutputFilenamePattern: "{Y}{m}{d}{H}{M}{S}-EOCIS-{LEVEL}-{PRODUCT}-v{VERSION}-fv01.0",
		TaskQuota:             1,
		JobQuota:              2,
		CleanupAfter:          100000 * time.Second,
		MaxTaskRetries:        1,
		TransactionTimeout:    10 * time.Second,
	}
}

// FromEnv returns the default Config with any values overridden from the
// environment.
func FromEnv() (*Config, error) {
	cfg := Default()
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv(EnvOutputPath); v != "" {
		cfg.OutputPath = v
	}
	if v := os.Getenv(EnvOutputFilenamePattern); v != "" {
		cfg.OutputFilenamePattern = v
	}
	var err error
	if cfg.TaskQuota, err = intFromEnv(EnvTaskQuota, cfg.TaskQuota); err != nil {
		return nil, err
	}
	if cfg.JobQuota, err = intFromEnv(EnvJobQuota, cfg.JobQuota); err != nil {
		return nil, err
	}
	if cfg.MaxTaskRetries, err = intFromEnv(EnvMaxTaskRetries, cfg.MaxTaskRetries); err != nil {
		return nil, err
	}
	if cfg.CleanupAfter, err = durationFromEnv(EnvCleanupAfterSecs, cfg.CleanupAfter); err != nil {
		return nil, err
	}
	if cfg.TransactionTimeout, err = durationFromEnv(EnvTransactionTimeout, cfg.TransactionTimeout); err != nil {
		return nil, err
	}
	return cfg, nil
}

func intFromEnv(key string, dflt int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return dflt, nil
	}
	rv, err := strconv.Atoi(v)
	if err != nil {
		return 0, skerr.Wrapf(err, "parsing %s", key)
	}
	return rv, nil
}

func durationFromEnv(key string, dflt time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return dflt, nil
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0, skerr.Wrapf(err, "parsing %s", key)
	}
	return time.Duration(secs) * time.Second, nil
}
