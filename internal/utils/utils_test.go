package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"欧美电影", "欧美电影"},
		{`Who: What? "Why"`, "Who What Why"},
		{"a/b\\c|d*e<f>", "abcdef"},
		{"Trailing dots... ", "Trailing dots"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), tt.in)
	}
}

func TestVideoExtensions(t *testing.T) {
	assert.True(t, IsVideoFile("Movie.2020.MKV"))
	assert.False(t, IsVideoFile("Movie.2020.nfo"))
	assert.Equal(t, ".mkv", NormalizeExtension("A.B.MkV"))
	assert.Equal(t, "", NormalizeExtension("README"))

	exts := DefaultVideoExtensions()
	assert.Contains(t, exts, ".rmvb")
	assert.IsIncreasing(t, exts)
}

func TestLoggerWritesStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, false).With("matcher")

	logger.Debug("hidden")
	logger.Info("Matched", 3, "torrents")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "Matched 3 torrents", entry["message"])
	assert.Equal(t, "matcher", entry["component"])
}

func TestDataLockIsExclusive(t *testing.T) {
	dir := t.TempDir()
	first, err := AcquireDataLock(dir)
	require.NoError(t, err)

	_, err = AcquireDataLock(dir)
	assert.True(t, errors.Is(err, ErrAlreadyRunning))

	require.NoError(t, first.Release())
	second, err := AcquireDataLock(dir)
	require.NoError(t, err)
	require.NoError(t, second.Release())
}

func TestGetDiskUsage(t *testing.T) {
	usage, err := GetDiskUsage(t.TempDir())
	require.NoError(t, err)
	assert.NotZero(t, usage.Total)
	assert.Contains(t, usage.Human, "free of")
}
