package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{"json info", "info", "json", false},
		{"console debug", "DEBUG", "console", false},
		{"empty format", "warn", "", false},
		{"bad level", "loud", "json", true},
		{"bad format", "info", "xml", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestTemporalLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	adapter := NewTemporalLogger(zap.New(core))

	adapter.Info("activity started", "typename", "table")
	adapter.With("workflowId", "wf-1").Warn("row skipped", "errored", 1)

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)

	assert.Equal(t, "activity started", entries[0].Message)
	assert.Equal(t, "table", entries[0].ContextMap()["typename"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "wf-1", entries[1].ContextMap()["workflowId"])
	assert.EqualValues(t, 1, entries[1].ContextMap()["errored"])
}
