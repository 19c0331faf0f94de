package fileutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureParentDir(t *testing.T) {
	target := filepath.Join(t.TempDir(), "a", "b", "state.pid")

	if err := EnsureParentDir(target); err != nil {
		t.Fatalf("EnsureParentDir() = %v", err)
	}
	info, err := os.Stat(filepath.Dir(target))
	if err != nil {
		t.Fatalf("parent directory missing: %v", err)
	}
	if !info.IsDir() {
		t.Error("parent path is not a directory")
	}

	// Already-existing parents are fine.
	if err := EnsureParentDir(target); err != nil {
		t.Errorf("EnsureParentDir() on an existing dir = %v", err)
	}
}

func TestReplaceFileAtomically(t *testing.T) {
	dir := t.TempDir()
	tmp := filepath.Join(dir, "state.tmp")
	target := filepath.Join(dir, "state")

	if err := os.WriteFile(target, []byte("old"), 0644); err != nil {
		t.Fatalf("failed to write target: %v", err)
	}
	if err := os.WriteFile(tmp, []byte("new"), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	if err := ReplaceFileAtomically(tmp, target); err != nil {
		t.Fatalf("ReplaceFileAtomically() = %v", err)
	}
	content, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("failed to read target: %v", err)
	}
	if string(content) != "new" {
		t.Errorf("target content = %q, expected %q", content, "new")
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Errorf("temp file still present after replace (stat err: %v)", err)
	}
}

func TestReplaceFileAtomicallyCreatesTarget(t *testing.T) {
	dir := t.TempDir()
	tmp := filepath.Join(dir, "state.tmp")
	target := filepath.Join(dir, "state")

	if err := os.WriteFile(tmp, []byte("only"), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	if err := ReplaceFileAtomically(tmp, target); err != nil {
		t.Fatalf("ReplaceFileAtomically() = %v", err)
	}
	content, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("failed to read target: %v", err)
	}
	if string(content) != "only" {
		t.Errorf("target content = %q, expected %q", content, "only")
	}
}
