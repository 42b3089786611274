package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "grove.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()
	require.NoError(t, Default().Validate())
}

func TestLoad_OverridesOnlyGivenKeys(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
cache:
  max_entries: 50
  ttl: 30s
resolution:
  span_tolerance: 12
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Cache.MaxEntries)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 12, cfg.Resolution.SpanTolerance)
	// Untouched keys keep defaults.
	def := Default()
	assert.Equal(t, def.Cache.MaxBytes, cfg.Cache.MaxBytes)
	assert.Equal(t, def.Graph.RetryBudget, cfg.Graph.RetryBudget)
	assert.Equal(t, def.Resolution.ImpactMaxHops, cfg.Resolution.ImpactMaxHops)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
resolution:
  impact_medium_threshold: 30
  impact_high_threshold: 20
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoad_MalformedYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "cache: [not a map")
	_, err := Load(path)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalid)
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	t.Parallel()
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestSave_ThenLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "grove.yaml")
	cfg := Default()
	cfg.Graph.RetryBudget = 9
	cfg.Cache.SoftCategories = []string{"impact"}
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, loaded.Graph.RetryBudget)
	assert.Equal(t, []string{"impact"}, loaded.Cache.SoftCategories)
}
