package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWithOptionsWritesStructuredLines(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "multisendd.log")
	logger, closer, err := SetupWithOptions("multisendd", "test", Options{Level: "warn", File: path, Output: &buf})
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("dropped")
	logger.Warn("kept", "id", "b-1")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	require.Equal(t, "kept", entry["message"])
	require.Equal(t, "WARN", entry["severity"])
	require.Equal(t, "multisendd", entry["service"])
	require.Equal(t, "test", entry["env"])
	require.Equal(t, "b-1", entry["id"])
	require.Contains(t, entry, "timestamp")
	require.FileExists(t, path)
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)
	_, err = ParseLevel("verbose")
	require.Error(t, err)
}

func TestMasking(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("secret", "hunter2").Value.String())
	require.Equal(t, "b-1", MaskField("id", "b-1").Value.String())
	require.Equal(t, "", MaskValue(""))
	require.Equal(t, "postgres://"+RedactedValue+"@db:5432/ms", MaskDSN("postgres://user:pw@db:5432/ms"))
	require.Equal(t, "host=db password="+RedactedValue+" dbname=ms", MaskDSN("host=db password=pw dbname=ms"))
	require.Equal(t, "file::memory:", MaskDSN("file::memory:"))
	require.Contains(t, RedactionAllowlist(), "reason")
}
