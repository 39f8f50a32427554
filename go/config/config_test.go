package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eocis-portal/data-manager/go/testutils/unittest"
)

func TestFromEnv_NoOverrides(t *testing.T) {
	unittest.SmallTest(t)

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestFromEnv_Overrides(t *testing.T) {
	unittest.SmallTest(t)

	t.Setenv(EnvDatabaseURL, "postgresql://eocis@dbhost/eocis?sslmode=disable")
	t.Setenv(EnvOutputPath, "/srv/joboutput")
	t.Setenv(EnvTaskQuota, "4")
	t.Setenv(EnvMaxTaskRetries, "3")
	t.Setenv(EnvCleanupAfterSecs, "3600")
	t.Setenv(EnvTransactionTimeout, "30")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, "postgresql://eocis@dbhost/eocis?sslmode=disable", cfg.DatabaseURL)
	require.Equal(t, "/srv/joboutput", cfg.OutputPath)
	require.Equal(t, 4, cfg.TaskQuota)
	require.Equal(t, 3, cfg.MaxTaskRetries)
	require.Equal(t, time.Hour, cfg.CleanupAfter)
	require.Equal(t, 30*time.Second, cfg.TransactionTimeout)

	// Unset values keep their defaults.
	require.Equal(t, Default().JobQuota, cfg.JobQuota)
	require.Equal(t, Default().OutputFilenamePattern, cfg.OutputFilenamePattern)
}

func TestFromEnv_BadValues(t *testing.T) {
	unittest.SmallTest(t)

	t.Setenv(EnvTaskQuota, "lots")
	_, err := FromEnv()
	require.Error(t, err)
}
