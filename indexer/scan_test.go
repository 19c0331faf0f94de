package indexer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDiscoverSources(t *testing.T) {
	dir := t.TempDir()

	files := map[string]string{
		"main.go":           "package main\n",
		"lib/parse.c":       "int parse() { return 0; }\n",
		"lib/parse.h":       "int parse();\n",
		"docs/readme.md":    "# readme\n",
		"build/gen.go":      "package gen\n",
		".hidden/secret.go": "package secret\n",
		"vendor/dep.go":     "package dep\n",
	}
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("build/\n"), 0644); err != nil {
		t.Fatalf("write .gitignore: %v", err)
	}

	extractor := NewExtractor(allExtensions())
	paths, err := DiscoverSources(dir, extractor, []string{"vendor"})
	if err != nil {
		t.Fatalf("DiscoverSources() = %v", err)
	}

	got := make(map[string]bool, len(paths))
	for _, p := range paths {
		rel, relErr := filepath.Rel(dir, p)
		if relErr != nil {
			t.Fatalf("non-relative result %q: %v", p, relErr)
		}
		got[filepath.ToSlash(rel)] = true
	}

	for _, want := range []string{"main.go", "lib/parse.c", "lib/parse.h"} {
		if !got[want] {
			t.Errorf("%s missing from discovered sources %v", want, paths)
		}
	}
	for _, excluded := range []string{"docs/readme.md", "build/gen.go", ".hidden/secret.go", "vendor/dep.go"} {
		if got[excluded] {
			t.Errorf("%s should have been excluded", excluded)
		}
	}
}

func TestDiscoverSourcesMissingRoot(t *testing.T) {
	extractor := NewExtractor(allExtensions())
	paths, err := DiscoverSources(filepath.Join(t.TempDir(), "absent"), extractor, nil)
	if err != nil {
		t.Fatalf("DiscoverSources() = %v for a missing root", err)
	}
	if len(paths) != 0 {
		t.Errorf("discovered %v under a missing root", paths)
	}
}

func TestAddToGitignore(t *testing.T) {
	dir := t.TempDir()
	gitignorePath := filepath.Join(dir, ".gitignore")

	if err := AddToGitignore(dir, ".symdex/"); err != nil {
		t.Fatalf("AddToGitignore() = %v", err)
	}
	// Idempotent.
	if err := AddToGitignore(dir, ".symdex/"); err != nil {
		t.Fatalf("second AddToGitignore() = %v", err)
	}

	data, err := os.ReadFile(gitignorePath)
	if err != nil {
		t.Fatalf("read .gitignore: %v", err)
	}
	if strings.Count(string(data), ".symdex/") != 1 {
		t.Errorf(".gitignore contains the pattern more than once:\n%s", data)
	}
}

func TestAddToGitignoreAppendsNewline(t *testing.T) {
	dir := t.TempDir()
	gitignorePath := filepath.Join(dir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte("bin"), 0644); err != nil {
		t.Fatalf("write .gitignore: %v", err)
	}

	if err := AddToGitignore(dir, ".symdex/"); err != nil {
		t.Fatalf("AddToGitignore() = %v", err)
	}
	data, _ := os.ReadFile(gitignorePath)
	if string(data) != "bin\n.symdex/\n" {
		t.Errorf(".gitignore = %q", data)
	}
}
