package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadReturnsContentAndHash(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "main.go")
	if err := os.WriteFile(path, []byte("package main\n"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	c := New()
	content, hash, err := c.Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if string(content) != "package main\n" {
		t.Errorf("content = %q", content)
	}
	if len(hash) != 16 {
		t.Errorf("hash = %q, expected 16 hex characters", hash)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, expected 1", c.Len())
	}
}

func TestLoadRevalidatesOnChange(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "main.go")
	if err := os.WriteFile(path, []byte("v1"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	c := New()
	_, hash1, err := c.Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}

	if err := os.WriteFile(path, []byte("version two"), 0644); err != nil {
		t.Fatalf("failed to rewrite file: %v", err)
	}
	// Size changed, so revalidation does not depend on mtime granularity.
	content, hash2, err := c.Load(path)
	if err != nil {
		t.Fatalf("Load() after change = %v", err)
	}
	if string(content) != "version two" {
		t.Errorf("content = %q, expected the rewritten file", content)
	}
	if hash1 == hash2 {
		t.Error("hash unchanged after the file content changed")
	}
}

func TestLoadHitsCacheWhenUnchanged(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "main.go")
	if err := os.WriteFile(path, []byte("stable"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	c := New()
	content1, hash1, err := c.Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}

	// Fix the mtime so a cached hit is distinguishable from a re-read of a
	// concurrently modified file.
	info, _ := os.Stat(path)
	time.Sleep(10 * time.Millisecond)

	content2, hash2, err := c.Load(path)
	if err != nil {
		t.Fatalf("second Load() = %v", err)
	}
	if string(content1) != string(content2) || hash1 != hash2 {
		t.Error("unchanged file produced different content or hash")
	}
	if after, _ := os.Stat(path); !after.ModTime().Equal(info.ModTime()) {
		t.Error("test invalidated itself: file mtime changed")
	}
}

func TestInvalidate(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "main.go")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	c := New()
	if _, _, err := c.Load(path); err != nil {
		t.Fatalf("Load() = %v", err)
	}
	c.Invalidate(path)
	if c.Len() != 0 {
		t.Errorf("Len() = %d after Invalidate, expected 0", c.Len())
	}
}

func TestLoadMissingFile(t *testing.T) {
	c := New()
	if _, _, err := c.Load(filepath.Join(t.TempDir(), "absent.go")); err == nil {
		t.Error("Load() succeeded for a missing file")
	}
}
