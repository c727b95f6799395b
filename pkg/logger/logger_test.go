package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		" INFO ":  LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"chatty":  LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "input %q", in)
	}
}

func TestLevelFiltering(t *testing.T) {
	var out, errOut bytes.Buffer
	l := NewWithWriters(&out, &errOut)
	l.SetLevel(LevelWarn)

	l.Debug("hidden %d", 1)
	l.Info("hidden %d", 2)
	l.Warn("shown %d", 3)
	l.Error("shown %d", 4)

	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "WARN: ")
	assert.Contains(t, errOut.String(), "shown 3")
	assert.Contains(t, errOut.String(), "ERROR: ")
	assert.Contains(t, errOut.String(), "shown 4")
}

func TestFormatWithoutArgsKeepsPercent(t *testing.T) {
	var out bytes.Buffer
	l := NewWithWriters(&out, &out)
	l.Info("100% done")
	assert.Contains(t, out.String(), "100% done")
}
