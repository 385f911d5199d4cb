package pythonbridge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "extract.sh")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func requireShell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func TestExtractJSONOutput(t *testing.T) {
	sh := requireShell(t)
	script := writeScript(t, "cat >/dev/null\necho '{\"text\":\"0xAbC1230000000000000000000000000000000001\"}'\n")

	client, err := NewClient(sh, script, "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	out, err := client.Extract(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if out != "0xAbC1230000000000000000000000000000000001" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestExtractPlainOutput(t *testing.T) {
	sh := requireShell(t)
	script := writeScript(t, "cat >/dev/null\nprintf 'alice\\nbob\\n'\n")

	client, err := NewClient(sh, script, "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	out, err := client.Extract(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if out != "alice" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestExtractScriptFailure(t *testing.T) {
	sh := requireShell(t)
	script := writeScript(t, "echo oops >&2\nexit 3\n")

	client, err := NewClient(sh, script, "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Extract(context.Background(), "prompt"); err == nil {
		t.Fatalf("expected failure")
	}
}

func TestResolveScriptPath(t *testing.T) {
	if got := ResolveScriptPath("/base", "scripts/x.py"); got != filepath.Join("/base", "scripts/x.py") {
		t.Fatalf("unexpected path %q", got)
	}
	if got := ResolveScriptPath("/base", "/abs/x.py"); got != "/abs/x.py" {
		t.Fatalf("absolute path changed: %q", got)
	}
	if ResolveScriptPath("/base", "") != "" {
		t.Fatalf("empty script should stay empty")
	}
}
