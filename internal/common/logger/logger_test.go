package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapAdapter_FieldsAndLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewZapAdapter(zap.New(core)).WithFields(map[string]interface{}{"component": "ledger"})

	log.Debug("checking", map[string]interface{}{"accountId": "acc-1"})
	log.WithError(errors.New("boom")).Error("transfer failed", map[string]interface{}{"reason": errors.New("short")})

	entries := logs.All()
	require.Len(t, entries, 2)

	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "ledger", entries[0].ContextMap()["component"])
	assert.Equal(t, "acc-1", entries[0].ContextMap()["accountId"])

	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
	assert.Equal(t, "short", entries[1].ContextMap()["reason"])
}

func TestNew_LevelSelection(t *testing.T) {
	assert.True(t, New("debug", "console").Core().Enabled(zapcore.DebugLevel))
	assert.False(t, New("warn", "json").Core().Enabled(zapcore.InfoLevel))
	assert.True(t, New("unknown", "json").Core().Enabled(zapcore.InfoLevel))
}

func TestNoOpLogger(t *testing.T) {
	log := NewNoOpLogger()
	assert.NotPanics(t, func() {
		log.With(map[string]interface{}{"k": "v"}).Info("ignored", nil)
	})
}

func TestForComponent(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := ForComponent(NewZapAdapter(zap.New(core)), "scheduler")

	log.Info("Engine running", map[string]interface{}{"recovered": 3})

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "scheduler", entries[0].ContextMap()["component"])
	assert.EqualValues(t, 3, entries[0].ContextMap()["recovered"])
}
