package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("debug")
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, l)

	l, err = ParseLevel("")
	require.NoError(t, err)
	require.Equal(t, slog.LevelInfo, l)

	_, err = ParseLevel("chatty")
	require.Error(t, err)
}

func TestNewWritesToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	logger, closer, err := New(Options{Level: "info", Format: "json", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("Sync pass finished", "synced", 2)
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), `"synced":2`)
	require.NotContains(t, string(b), "hidden")

	_, _, err = New(Options{Format: "xml"})
	require.Error(t, err)
}
