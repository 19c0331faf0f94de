package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/symdex/symdex/cache"
	"github.com/symdex/symdex/config"
	"github.com/symdex/symdex/indexer"
	"github.com/symdex/symdex/request"
	"github.com/symdex/symdex/storage"
)

type fakeScheduler struct {
	requests int
	waits    int
}

func (s *fakeScheduler) RequestRescan() { s.requests++ }

func (s *fakeScheduler) WaitForRescan(ctx context.Context) error {
	s.waits++
	return ctx.Err()
}

func newTestDeps(t *testing.T) (Deps, *fakeScheduler) {
	t.Helper()
	st, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	scheduler := &fakeScheduler{}
	deps := Deps{
		Store:     st,
		Cache:     cache.New(),
		Scheduler: scheduler,
		Extractor: indexer.NewExtractor([]string{".go", ".c", ".h", ".py", ".js"}),
		Config:    config.DefaultConfig(),
	}
	return deps, scheduler
}

func dispatch(t *testing.T, deps Deps, raw string) (string, error) {
	t.Helper()
	registry := Register(request.NewRegistry(), deps)
	var out bytes.Buffer
	err := registry.Dispatch(context.Background(), []byte(raw), &out)
	return out.String(), err
}

func TestRegisterOrder(t *testing.T) {
	deps, _ := newTestDeps(t)
	registry := Register(request.NewRegistry(), deps)

	names := make([]string, 0, 7)
	for _, c := range registry.Commands() {
		names = append(names, c.Name())
	}
	expected := "load,config,index,find,grep,complete,exit"
	if strings.Join(names, ",") != expected {
		t.Errorf("command order = %v, expected %s", names, expected)
	}
}

func TestExitCommand(t *testing.T) {
	deps, _ := newTestDeps(t)

	out, err := dispatch(t, deps, `{"command": "exit"}`)
	if !errors.Is(err, request.ErrTerminateServing) {
		t.Errorf("exit returned %v, expected ErrTerminateServing", err)
	}
	if out != "Exiting...\n" {
		t.Errorf("exit output = %q", out)
	}
}

func TestIndexCommand(t *testing.T) {
	deps, scheduler := newTestDeps(t)

	out, err := dispatch(t, deps, `{"command": "index"}`)
	if err != nil {
		t.Fatalf("index = %v", err)
	}
	if !strings.Contains(out, "Waiting for the index to be rebuilt...") || !strings.Contains(out, "Done.") {
		t.Errorf("index output = %q", out)
	}
	if scheduler.requests != 1 || scheduler.waits != 1 {
		t.Errorf("scheduler saw %d requests and %d waits, expected 1 and 1", scheduler.requests, scheduler.waits)
	}
}

func TestConfigCommand(t *testing.T) {
	deps, _ := newTestDeps(t)

	if _, err := dispatch(t, deps, `{"command": "config", "option": "cxxflags", "value": ["-std=c++11"]}`); err != nil {
		t.Fatalf("config set = %v", err)
	}

	out, err := dispatch(t, deps, `{"command": "config", "get": true, "option": "cxxflags"}`)
	if err != nil {
		t.Fatalf("config get = %v", err)
	}
	if strings.TrimSpace(out) != `["-std=c++11"]` {
		t.Errorf("config get output = %q", out)
	}

	if _, err := dispatch(t, deps, `{"command": "config", "get": true, "option": "absent"}`); err == nil {
		t.Error("config get for an unset option succeeded")
	}
	if _, err := dispatch(t, deps, `{"command": "config", "get": true}`); err == nil {
		t.Error("config get without an option name succeeded")
	}
}

func TestLoadCompilationDatabase(t *testing.T) {
	deps, scheduler := newTestDeps(t)
	dir := t.TempDir()

	entries := []compileCommand{
		{Directory: dir, File: "main.c", Arguments: []string{"cc", "-c", "main.c"}},
		{Directory: dir, File: filepath.Join(dir, "util.c")},
	}
	data, _ := json.Marshal(entries)
	dbPath := filepath.Join(dir, "compile_commands.json")
	if err := os.WriteFile(dbPath, data, 0644); err != nil {
		t.Fatalf("failed to write database: %v", err)
	}

	out, err := dispatch(t, deps, fmt.Sprintf(`{"command": "load", "database": %q}`, dbPath))
	if err != nil {
		t.Fatalf("load = %v", err)
	}
	if !strings.Contains(out, "Loaded 2 compilation entries") {
		t.Errorf("load output = %q", out)
	}
	if scheduler.requests != 1 {
		t.Errorf("load triggered %d rescans, expected 1", scheduler.requests)
	}

	paths, err := deps.Store.ListFiles(context.Background())
	if err != nil {
		t.Fatalf("ListFiles() = %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("registered %d files, expected 2", len(paths))
	}
	// Relative entries resolve against their directory.
	want := filepath.Join(dir, "main.c")
	found := false
	for _, p := range paths {
		if p == want {
			found = true
		}
	}
	if !found {
		t.Errorf("paths = %v, expected to contain %s", paths, want)
	}
}

func TestLoadMissingDatabase(t *testing.T) {
	deps, _ := newTestDeps(t)
	if _, err := dispatch(t, deps, `{"command": "load", "database": "/nonexistent/compile_commands.json"}`); err == nil {
		t.Error("load of a missing database succeeded")
	}
}

func TestLoadDirectory(t *testing.T) {
	deps, scheduler := newTestDeps(t)
	dir := t.TempDir()

	for rel, content := range map[string]string{
		"main.go":   "package main\n",
		"notes.txt": "not source\n",
	} {
		if err := os.WriteFile(filepath.Join(dir, rel), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", rel, err)
		}
	}

	out, err := dispatch(t, deps, fmt.Sprintf(`{"command": "load", "dir": %q}`, dir))
	if err != nil {
		t.Fatalf("load --dir = %v", err)
	}
	if !strings.Contains(out, "Registered 1 source files") {
		t.Errorf("load output = %q", out)
	}
	if scheduler.requests != 1 {
		t.Errorf("load triggered %d rescans, expected 1", scheduler.requests)
	}
}

func seedIndex(t *testing.T, deps Deps) {
	t.Helper()
	symbols := []storage.Symbol{
		{
			USR: "c:helper", Name: "helper", Kind: "function", File: "/src/a.c",
			Line: 1, Col: 0, StartByte: 0, EndByte: 28,
			Signature: "static void helper(void)", Language: "c",
		},
	}
	refs := []storage.Reference{
		{USR: "c:helper", Name: "helper", File: "/src/a.c", Line: 1, Col: 12, StartByte: 12, EndByte: 18},
		{USR: "c:helper", Name: "helper", File: "/src/a.c", Line: 4, Col: 2, StartByte: 44, EndByte: 50},
	}
	if err := deps.Store.ReplaceFileSymbols(context.Background(), "/src/a.c", symbols, refs); err != nil {
		t.Fatalf("ReplaceFileSymbols() = %v", err)
	}
}

func TestFindCommand(t *testing.T) {
	deps, _ := newTestDeps(t)
	seedIndex(t, deps)

	out, err := dispatch(t, deps, `{"command": "find", "file": "/src/a.c", "offset": 45}`)
	if err != nil {
		t.Fatalf("find = %v", err)
	}
	if !strings.Contains(out, "c:helper") {
		t.Errorf("find output missing the USR: %q", out)
	}
	if !strings.Contains(out, "/src/a.c:1:0: static void helper(void)") {
		t.Errorf("find output missing the definition: %q", out)
	}

	if _, err := dispatch(t, deps, `{"command": "find", "file": "/src/a.c", "offset": 999}`); err == nil {
		t.Error("find at an empty offset succeeded")
	}
	if _, err := dispatch(t, deps, `{"command": "find"}`); err == nil {
		t.Error("find without a file succeeded")
	}
}

func TestGrepCommand(t *testing.T) {
	deps, _ := newTestDeps(t)
	seedIndex(t, deps)

	out, err := dispatch(t, deps, `{"command": "grep", "usr": "c:helper"}`)
	if err != nil {
		t.Fatalf("grep = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("grep produced %d lines, expected 2:\n%s", len(lines), out)
	}
	if lines[0] != "/src/a.c:1:12: helper" {
		t.Errorf("grep line = %q", lines[0])
	}
}

func TestCompleteCommand(t *testing.T) {
	deps, _ := newTestDeps(t)
	dir := t.TempDir()

	path := filepath.Join(dir, "main.go")
	source := "package main\n\nfunc main() {\n\tPar\n}\n"
	if err := os.WriteFile(path, []byte(source), 0644); err != nil {
		t.Fatalf("failed to write source: %v", err)
	}

	symbols := []storage.Symbol{
		{USR: "go:ParseConfig", Name: "ParseConfig", Kind: "function", File: path, Signature: "func ParseConfig() error"},
		{USR: "go:Other", Name: "Other", Kind: "function", File: path},
	}
	if err := deps.Store.ReplaceFileSymbols(context.Background(), path, symbols, nil); err != nil {
		t.Fatalf("ReplaceFileSymbols() = %v", err)
	}

	// Cursor at the end of "Par" on line 3 (0-based), column 4.
	out, err := dispatch(t, deps,
		fmt.Sprintf(`{"command": "complete", "file": %q, "line": 3, "column": 4}`, path))
	if err != nil {
		t.Fatalf("complete = %v", err)
	}
	if !strings.Contains(out, "ParseConfig [function] func ParseConfig() error") {
		t.Errorf("complete output = %q", out)
	}
	if strings.Contains(out, "Other") {
		t.Errorf("complete output includes a non-matching symbol: %q", out)
	}
}

func TestPrefixAt(t *testing.T) {
	content := []byte("alpha beta\nfoo.bar_baz qux\n")

	tests := []struct {
		line, column int
		expected     string
		wantErr      bool
	}{
		{0, 5, "alpha", false},
		{0, 3, "alp", false},
		{0, 0, "", false},
		{1, 11, "bar_baz", false}, // stops at the dot
		{1, 4, "", false},         // cursor right after the dot
		{5, 0, "", true},
		{0, 99, "", true},
	}

	for _, tt := range tests {
		got, err := prefixAt(content, tt.line, tt.column)
		if tt.wantErr {
			if err == nil {
				t.Errorf("prefixAt(%d, %d) succeeded, expected an error", tt.line, tt.column)
			}
			continue
		}
		if err != nil {
			t.Errorf("prefixAt(%d, %d) = %v", tt.line, tt.column, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("prefixAt(%d, %d) = %q, expected %q", tt.line, tt.column, got, tt.expected)
		}
	}
}
