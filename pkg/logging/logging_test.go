package logging

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelWarn,
	}
	for input, want := range cases {
		got, err := ParseLevel(input)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestGetLogger_InitializesDefault(t *testing.T) {
	defaultLogger = nil
	l := GetLogger()
	assert.NotNil(t, l)
}
