package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelWarn, &buf)

	Debug("Test", "debug message")
	Info("Test", "info message")
	Warn("Test", "warn message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
}

func TestErrorIncludesAttributes(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelDebug, &buf)

	Error("Registry", errors.New("connection refused"), "refresh failed for %s", "backend-a")

	out := buf.String()
	assert.Contains(t, out, "refresh failed for backend-a")
	assert.Contains(t, out, "subsystem=Registry")
	assert.Contains(t, out, "connection refused")
}

func TestFormatArgs(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelDebug, &buf)

	Info("Engine", "executing %d steps for %s", 3, "wf")
	assert.True(t, strings.Contains(buf.String(), "executing 3 steps for wf"))
}
