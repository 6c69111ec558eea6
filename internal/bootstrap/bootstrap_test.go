package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nucleus/metadata-extractor/internal/config"
	"github.com/nucleus/metadata-extractor/internal/credentials"
	"github.com/nucleus/metadata-extractor/internal/objectstore"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		SourceDialect:     "postgres",
		CredentialStore:   "memory",
		ObjectStoreBucket: "metadata",
		ObjectStoreRoot:   t.TempDir(),
		BatchSize:         10,
		LogLevel:          "debug",
		LogFormat:         "console",
	}
}

func TestNewRuntime(t *testing.T) {
	rt, err := New(context.Background(), testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer rt.Close()

	assert.IsType(t, &credentials.MemoryStore{}, rt.Credentials)
	assert.IsType(t, &objectstore.LocalStore{}, rt.Store)
	assert.NotNil(t, rt.Activities())
	assert.NotNil(t, rt.Checker())
}

func TestNewRuntimeRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown dialect", func(c *config.Config) { c.SourceDialect = "oracle" }},
		{"unknown credential store", func(c *config.Config) { c.CredentialStore = "vault" }},
		{"postgres store without url", func(c *config.Config) { c.CredentialStore = "postgres" }},
		{"missing queries file", func(c *config.Config) { c.QueriesFile = "/nonexistent/queries.yaml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := New(context.Background(), cfg, zaptest.NewLogger(t))
			assert.Error(t, err)
		})
	}
}

func TestNewRuntimePingsObjectStore(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	cfg.ObjectStoreRoot = filepath.Join(blocker, "objects")

	_, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "object store unreachable")
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(testConfig(t))
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
