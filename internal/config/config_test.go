package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_MatchesDocumentedRunnerDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 20, cfg.Runner.MaxConcurrentActivities)
	assert.Equal(t, float64(2), cfg.Runner.ActivityRetry.BackoffCoefficient)
	assert.Equal(t, 3, cfg.Runner.ActivityRetry.MaximumAttempts)
	assert.Zero(t, cfg.Runner.ExecutionDeadline)
}

func TestLoad_EnvironmentVariableOverridesDefault(t *testing.T) {
	t.Setenv("ROUTINES_RUNNER_MAXCONCURRENTACTIVITIES", "5")
	t.Setenv("ROUTINES_TEMPORAL_NAMESPACE", "routines-test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Runner.MaxConcurrentActivities)
	assert.Equal(t, "routines-test", cfg.Temporal.Namespace)
}

func TestLoad_MissingConfigFileFallsBackToDefaults(t *testing.T) {
	original, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, os.Chdir(original)) })

	require.NoError(t, os.Chdir(t.TempDir()))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Redis.Addr, cfg.Redis.Addr)
}

func TestToRunnerConfig_CarriesRetryPolicyThrough(t *testing.T) {
	cfg := Default()
	rc := cfg.ToRunnerConfig()
	assert.Equal(t, cfg.Runner.MaxConcurrentActivities, rc.MaxConcurrentActivities)
	assert.Equal(t, cfg.Runner.ActivityRetry.MaximumAttempts, rc.ActivityRetry.MaximumAttempts)
}

func TestToDurableConfig_ConvertsMaximumAttemptsToInt32(t *testing.T) {
	cfg := Default()
	dc := cfg.ToDurableConfig()
	assert.Equal(t, int32(cfg.Runner.ActivityRetry.MaximumAttempts), dc.ActivityRetry.MaximumAttempts)
}
