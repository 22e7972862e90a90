package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStandardLoggerVerbosity(t *testing.T) {
	var buf bytes.Buffer
	l := NewStandardLogger(&buf)

	l.Debugf("hidden %d", 1)
	l.Infof("shown %d", 2)
	l.Warnf("careful")
	l.Errorf("broken")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INFO:  shown 2")
	assert.Contains(t, out, "WARN:  careful")
	assert.Contains(t, out, "ERROR: broken")
}

func TestStandardLoggerPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := NewVerboseLogger(&buf).WithPrefix("[agent] ").WithPrefix("[conn] ")

	l.Debugf("hello")
	assert.Contains(t, buf.String(), "DEBUG: [agent] [conn] hello")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]int{
		"debug":   LevelDebug,
		"DEBUG":   LevelDebug,
		"warning": LevelWarn,
		"error":   LevelError,
		"info":    LevelInfo,
		"":        LevelInfo,
		"chatty":  LevelInfo,
	}
	for name, exp := range tests {
		assert.Equal(t, exp, ParseLevel(name), name)
	}

	var buf bytes.Buffer
	NewLevelLogger(&buf, "error").Warnf("dropped")
	assert.Empty(t, buf.String())
}

func TestBufferLogger(t *testing.T) {
	l := NewBufferLogger()
	l.Debugf("a")
	l.Errorf("b %s", "c")
	lines := strings.Split(strings.TrimSpace(l.String()), "\n")
	assert.Equal(t, []string{"DEBUG: a", "ERROR: b c"}, lines)
}
