package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "TEMPORAL_TASK_QUEUE", "BATCH_SIZE", "OUTPUT_PREFIX", "TEARDOWN_OUTPUT", "UPLOAD_RATE"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, DefaultTaskQueue, cfg.TemporalTaskQueue)
	assert.Equal(t, 100000, cfg.BatchSize)
	assert.Equal(t, "/tmp/metadata", cfg.OutputPrefix)
	assert.True(t, cfg.TeardownOutput)
	assert.Zero(t, cfg.UploadRate)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BATCH_SIZE", "500")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("UPLOAD_TIMEOUT", "30s")
	t.Setenv("UPLOAD_RATE", "2.5")

	cfg := Load()
	assert.Equal(t, 500, cfg.BatchSize)
	assert.True(t, cfg.MinioUseSSL)
	assert.Equal(t, 30*time.Second, cfg.UploadTimeout)
	assert.Equal(t, 2.5, cfg.UploadRate)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("BATCH_SIZE", "lots")
	t.Setenv("TEARDOWN_OUTPUT", "maybe")

	cfg := Load()
	assert.Equal(t, 100000, cfg.BatchSize)
	assert.True(t, cfg.TeardownOutput)
}
