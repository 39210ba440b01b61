package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cycler.env")
	if err := os.WriteFile(path, []byte("CYCLER_DOTENV_TEST=from-file\nCYCLER_DOTENV_KEEP=from-file\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CYCLER_DOTENV_KEEP", "from-env")
	t.Setenv("CYCLER_DOTENV_TEST", "")
	os.Unsetenv("CYCLER_DOTENV_TEST")

	if err := Load(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := os.Getenv("CYCLER_DOTENV_TEST"); got != "from-file" {
		t.Fatalf("got %q want from-file", got)
	}
	if got := os.Getenv("CYCLER_DOTENV_KEEP"); got != "from-env" {
		t.Fatalf("existing env overwritten: got %q", got)
	}
}
