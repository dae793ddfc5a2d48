package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapLogger(zap.New(core)).WithName("relay").WithValues("ssrc", uint32(1234))

	l.Debugw("entry created")
	l.Warnw("sweep failed", errors.New("boom"), "removed", 3)
	l.Errorw("no error attached", nil)

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)

	require.Equal(t, "relay", entries[0].LoggerName)
	require.Equal(t, uint32(1234), entries[0].ContextMap()["ssrc"])

	fields := entries[1].ContextMap()
	require.Equal(t, "boom", fields["error"])
	require.Equal(t, int64(3), fields["removed"])

	_, ok := entries[2].ContextMap()["error"]
	require.False(t, ok)
}

func TestNewFromConfig(t *testing.T) {
	l, err := NewFromConfig(Config{JSON: true, Level: "warn"})
	require.NoError(t, err)
	require.NotNil(t, l)

	// unknown levels fall back to the config default
	l, err = NewFromConfig(Config{Level: "chatty"})
	require.NoError(t, err)
	require.NotNil(t, l)
}

func TestDefaultLogger(t *testing.T) {
	prev := GetLogger()
	defer SetLogger(prev)

	SetLogger(NewTestLogger(t))
	Infow("hello", "key", "value")
	Warnw("careful", nil)
}
