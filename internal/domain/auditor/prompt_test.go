package auditor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ehr/intake/internal/platform/faults"
)

func TestLoadPrompt(t *testing.T) {
	got, err := LoadPrompt("")
	if err != nil || got != DefaultPrompt {
		t.Fatalf("LoadPrompt(\"\") = %q, %v", got, err)
	}

	dir := t.TempDir()
	custom := filepath.Join(dir, "prompt.txt")
	if err := os.WriteFile(custom, []byte("  classify this\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got, err := LoadPrompt(custom); err != nil || got != "classify this" {
		t.Errorf("LoadPrompt(custom) = %q, %v", got, err)
	}

	empty := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(empty, []byte(" \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	for _, path := range []string{empty, filepath.Join(dir, "absent.txt")} {
		if _, err := LoadPrompt(path); !errors.Is(err, faults.ErrConfiguration) {
			t.Errorf("LoadPrompt(%s) err = %v, want configuration error", path, err)
		}
	}
}
