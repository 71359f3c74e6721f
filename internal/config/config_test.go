package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setTestDirs(t *testing.T) {
	t.Helper()
	root := t.TempDir()
	t.Setenv("TTSJOBS_CACHE_DIR", filepath.Join(root, "cache"))
	t.Setenv("TTSJOBS_DICT_DIR", filepath.Join(root, "dicts", "packs"))
	t.Setenv("TTSJOBS_COMPILED_DIR", filepath.Join(root, "dicts", "compiled"))
}

func TestLoadAppliesDefaults(t *testing.T) {
	setTestDirs(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, RoleAPI, cfg.Role)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 4, cfg.MaxWorkers)
	assert.Equal(t, 1, cfg.PerJobWorkers)
	assert.Equal(t, 20000, cfg.MaxTextChars)
	assert.Contains(t, cfg.ModelAllowlist, cfg.ModelIDQuality)
}

func TestLoadRejectsUnknownRole(t *testing.T) {
	setTestDirs(t)
	t.Setenv("TTSJOBS_ROLE", "bogus")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, RoleAll, cfg.Role)
}

func TestLoadRejectsAllowlistMissingQualityModel(t *testing.T) {
	setTestDirs(t)
	t.Setenv("TTSJOBS_MODEL_ALLOWLIST", "some/other/model")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadFallsBackDefaultModelWhenNotAllowlisted(t *testing.T) {
	setTestDirs(t)
	t.Setenv("TTSJOBS_MODEL_ID_DEFAULT", "not/in/allowlist")
	t.Setenv("TTSJOBS_MODEL_ALLOWLIST", "tts_models/en/ljspeech/vits")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, cfg.ModelIDQuality, cfg.ModelIDDefault)
}

func TestClampEnforcesPerJobWorkersBound(t *testing.T) {
	cfg := Config{MaxWorkers: 2, PerJobWorkers: 10, MaxConcurrentSegments: 1, MaxTextChars: 1, MaxSegments: 1, MaxActiveJobs: 1, MinSegmentChars: 1, SegmentStaleSeconds: 1, ChunkTargetChars: 1}
	clamp(&cfg)
	assert.Equal(t, 2, cfg.MaxWorkers)
	assert.LessOrEqual(t, cfg.PerJobWorkers, cfg.MaxWorkers)
}

func TestClampFloorsZeroAndNegativeValues(t *testing.T) {
	cfg := Config{}
	clamp(&cfg)
	assert.Equal(t, 1, cfg.MaxWorkers)
	assert.Equal(t, 1, cfg.PerJobWorkers)
	assert.Equal(t, 1, cfg.MaxConcurrentSegments)
	assert.Equal(t, 1, cfg.MaxTextChars)
	assert.Equal(t, 1, cfg.MaxSegments)
	assert.Equal(t, 1, cfg.MaxActiveJobs)
	assert.Equal(t, 1, cfg.MinSegmentChars)
	assert.Equal(t, 0, cfg.SegmentMaxRetries)
}

func TestClampRaisesChunkMaxToTarget(t *testing.T) {
	cfg := Config{MaxWorkers: 1, PerJobWorkers: 1, MaxConcurrentSegments: 1, MaxTextChars: 1, MaxSegments: 1, MaxActiveJobs: 1, MinSegmentChars: 1, SegmentStaleSeconds: 1, ChunkTargetChars: 500, ChunkMaxChars: 100}
	clamp(&cfg)
	assert.Equal(t, 500, cfg.ChunkMaxChars)
}

func TestParseAllowlistFallsBackToDefault(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseAllowlist("", []string{"a", "b"}))
	assert.Equal(t, []string{"x", "y"}, parseAllowlist("x, y", []string{"a"}))
}

func TestNormalizeBaseURLHandlesRelativeAndAbsolute(t *testing.T) {
	assert.Equal(t, "/v1/tts", normalizeBaseURL(""))
	assert.Equal(t, "/custom", normalizeBaseURL("custom/"))
	assert.Equal(t, "https://example.com/api", normalizeBaseURL("https://example.com/api/"))
}

func TestRedactBlanksOutAPIKey(t *testing.T) {
	cfg := Config{APIKey: "super-secret", Profile: "production"}
	redacted := cfg.Redact()
	assert.Equal(t, true, redacted["api_key_set"])
	assert.NotContains(t, redacted, "api_key")
}
