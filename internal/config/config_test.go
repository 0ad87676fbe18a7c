package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		RedisURL:            "redis://localhost:6379",
		DatabaseURL:         "postgres://localhost/submissions",
		WorkerConcurrency:   10,
		WorkerMaxAttempts:   2,
		MaxFileSize:         1 << 20,
		OCRTimeoutS:         60,
		LLMTimeoutS:         30,
		ObjectStoreTimeoutS: 20,
		RecordStoreTimeoutS: 10,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

// The determinism contract: any non-zero LLM temperature is a
// configuration error, not a tunable.
func TestValidateRejectsNonZeroLLMTemperature(t *testing.T) {
	cfg := validConfig()
	cfg.ExtractorLLMTemperature = 0.7
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EXTRACTOR_LLM_TEMPERATURE")
}

func TestValidateRejectsMissingDatabaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.DatabaseURL = ""
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsOutOfRangeThresholds(t *testing.T) {
	cfg := validConfig()
	cfg.OCRLowConfidenceThreshold = 1.5
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroCallTimeouts(t *testing.T) {
	cfg := validConfig()
	cfg.RecordStoreTimeoutS = 0
	require.Error(t, cfg.Validate())
}

func TestEnvHelpersFallBackOnUnparseableValues(t *testing.T) {
	t.Setenv("SUBMITPROC_TEST_INT", "not-a-number")
	assert.Equal(t, 7, getEnvAsIntOrDefault("SUBMITPROC_TEST_INT", 7))

	t.Setenv("SUBMITPROC_TEST_BOOL", "definitely")
	assert.True(t, getEnvAsBoolOrDefault("SUBMITPROC_TEST_BOOL", true))

	t.Setenv("SUBMITPROC_TEST_BOOL_SET", "true")
	assert.True(t, getEnvAsBoolOrDefault("SUBMITPROC_TEST_BOOL_SET", false))

	t.Setenv("SUBMITPROC_TEST_FLOAT", "0.25")
	assert.Equal(t, 0.25, getEnvAsFloatOrDefault("SUBMITPROC_TEST_FLOAT", 0.5))
}
