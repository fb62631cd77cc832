package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLogLine(ts time.Time, message string) string {
	return `{"level":"info","time":"` + ts.Format(time.RFC3339Nano) + `","message":"` + message + `"}` + "\n"
}

func TestTrimOldLogsRemovesStaleEntries(t *testing.T) {
	dir := t.TempDir()
	content := writeLogLine(time.Now().Add(-5*time.Hour), "旧日志") +
		"续行没有时间戳\n" +
		writeLogLine(time.Now().Add(-10*time.Minute), "新日志")
	path := filepath.Join(dir, "trading_20260824.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	trimOldLogs(dir, 3*time.Hour)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "旧日志")
	// untimestamped lines follow the preceding entry
	assert.NotContains(t, string(data), "续行")
	assert.Contains(t, string(data), "新日志")
}

func TestTrimOldLogsLeavesFreshFileAlone(t *testing.T) {
	dir := t.TempDir()
	content := writeLogLine(time.Now(), "新日志")
	path := filepath.Join(dir, "trading_20260824.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	trimOldLogs(dir, 3*time.Hour)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestTrimOldLogsIgnoresNonLogFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("保留"), 0o644))

	trimOldLogs(dir, time.Hour)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "保留", string(data))
}

func TestLineTime(t *testing.T) {
	ts, ok := lineTime([]byte(`{"time":"2026-08-24T10:00:00+08:00","message":"x"}`))
	require.True(t, ok)
	assert.Equal(t, 2026, ts.Year())

	_, ok = lineTime([]byte("not json"))
	assert.False(t, ok)
	_, ok = lineTime([]byte(`{"message":"no time"}`))
	assert.False(t, ok)
}
