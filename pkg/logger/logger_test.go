package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warning", WarnLevel},
		{"warn", WarnLevel},
		{"error", ErrorLevel},
		{"verbose", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestSetLevel_PropagatesToDerivedLoggers(t *testing.T) {
	root, err := New(Config{Level: InfoLevel, Environment: "production"})
	require.NoError(t, err)

	child := root.WithComponent("navigator").WithDealID("deal-1")
	assert.False(t, child.Core().Enabled(zapcore.DebugLevel), "debug disabled at info level")

	root.SetLevel(DebugLevel)
	assert.True(t, child.Core().Enabled(zapcore.DebugLevel), "derived logger follows the shared level")
	assert.Equal(t, DebugLevel, child.Level())
}

func TestGlobalLogger(t *testing.T) {
	defer SetGlobalLogger(nil)

	SetGlobalLogger(nil)
	assert.NotNil(t, GetGlobalLogger())

	nop := NewNop()
	SetGlobalLogger(nop)
	assert.Same(t, nop, GetGlobalLogger())
}
