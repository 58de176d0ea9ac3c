package logger

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesComponentFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf).Component("oms")

	log.Trade("order %s filled", "01H")
	log.LogError("persist order", errors.New("disk full"))

	out := buf.String()
	assert.Contains(t, out, "component=oms")
	assert.Contains(t, out, "kind=trade")
	assert.Contains(t, out, "order 01H filled")
	assert.Contains(t, out, "disk full")
}

func TestNewCreatesLogFile(t *testing.T) {
	dir := t.TempDir()
	log, err := New(Options{Name: "test", Dir: dir, Level: "debug"})
	require.NoError(t, err)

	log.Info("hello %d", 1)
	require.NoError(t, log.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "test_*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello 1")
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LogLevelWarning, ParseLevel("WARNING"))
	assert.Equal(t, LogLevelInfo, ParseLevel(""))
}
