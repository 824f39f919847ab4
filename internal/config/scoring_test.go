package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/andyvauliln/paysync/internal/paymentsync/scoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoadScoringConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scoring.yml")
	writeFile(t, path, "scoring:\n  apartment_exact: 35\n  exact_threshold: 90\n")

	holder, err := LoadScoringConfig(path, zap.NewNop())
	require.NoError(t, err)

	got := holder.Get()
	want := scoring.DefaultWeights()
	want.ApartmentExact = 35
	want.ExactThreshold = 90
	assert.Equal(t, want, got)
}

func TestLoadScoringConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scoring.yml")
	writeFile(t, path, "scoring:\n  merged_penalty: 50\n")

	_, err := LoadScoringConfig(path, zap.NewNop())
	assert.ErrorIs(t, err, scoring.ErrInvalidWeights)
}

func TestScoringReloadKeepsPreviousOnInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scoring.yml")
	writeFile(t, path, "scoring:\n  date_max: 25\n")

	holder, err := LoadScoringConfig(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 25.0, holder.Get().DateMax)

	writeFile(t, path, "scoring:\n  date_max: 30\n")
	require.NoError(t, holder.Reload())
	assert.Equal(t, 30.0, holder.Get().DateMax)

	writeFile(t, path, "scoring:\n  strong_threshold: 99\n")
	assert.Error(t, holder.Reload())
	assert.Equal(t, 30.0, holder.Get().DateMax)
	assert.Equal(t, 55.0, holder.Get().StrongThreshold)
}

func TestLoadScoringConfigMissingPathFails(t *testing.T) {
	_, err := LoadScoringConfig(filepath.Join(t.TempDir(), "nope.yml"), zap.NewNop())
	assert.Error(t, err)
}

func TestLoadReadsAIEnv(t *testing.T) {
	t.Setenv("AI_TIMEOUT", "45")
	t.Setenv("AI_CACHE_TTL", "2m")
	t.Setenv("AI_MODEL", "gpt-4o-mini")
	t.Setenv("TRACE_LOG_PATH", "/tmp/trace.log")

	cfg := Load()
	assert.Equal(t, "paysync", cfg.AppName)
	assert.Equal(t, "gpt-4o-mini", cfg.AI.Model)
	assert.Equal(t, int64(45), int64(cfg.AI.Timeout.Seconds()))
	assert.Equal(t, 120.0, cfg.AI.CacheTTL.Seconds())
	assert.Equal(t, "/tmp/trace.log", cfg.TraceLogPath)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoadReadsObservabilityEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", " DEBUG ")
	t.Setenv("OTEL_ENABLED", "off")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.5")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "HTTP")

	obs := Load().Observability
	assert.Equal(t, "debug", obs.LogLevel)
	assert.False(t, obs.OTLPEnabled)
	assert.Equal(t, 0.5, obs.SamplingRatio)
	assert.Equal(t, "http", obs.OTLPProtocol)
	assert.Equal(t, "json", obs.LogFormat)
}
