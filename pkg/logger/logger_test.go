package logger

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitWritesAuditStream(t *testing.T) {
	dir := t.TempDir()
	audit := filepath.Join(dir, "audit", "mint.log")
	require.NoError(t, Init(Config{
		Service:     "tokenactiond",
		OutputPaths: []string{filepath.Join(dir, "app.log")},
		Audit:       AuditConfig{Enabled: true, Path: audit},
	}))
	t.Cleanup(func() { _ = Sync() })

	Audit().Info("submitted", slog.String("tx_hash", "0xdeadbeef"))
	require.NoError(t, Sync())

	raw, err := os.ReadFile(audit)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &entry))
	require.Equal(t, "submitted", entry["msg"])
	require.Equal(t, "audit", entry["stream"])
	require.Equal(t, "0xdeadbeef", entry["tx_hash"])
}

func TestInitAuditRequiresPath(t *testing.T) {
	err := Init(Config{Audit: AuditConfig{Enabled: true}})
	require.Error(t, err)
}

func TestInitRejectsEmptyOutput(t *testing.T) {
	err := Init(Config{OutputPaths: []string{"stdout", " "}})
	require.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		require.Equal(t, want, parseLevel(in), in)
	}
}

func TestNamedTextOutputCarriesServiceAndComponent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	require.NoError(t, Init(Config{Service: "tokenaction", Format: "text", OutputPaths: []string{path}}))
	t.Cleanup(func() { _ = Sync() })

	Named("resolver").Info("hello")
	require.NoError(t, Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "msg=hello")
	require.Contains(t, string(raw), "service=tokenaction")
	require.Contains(t, string(raw), "component=resolver")
}
