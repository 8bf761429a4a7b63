package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInit(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, ".sidecar")

	if err := Init(root, false); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	// Verify structure
	for _, d := range []string{"debug", "sessions"} {
		p := filepath.Join(root, d)
		info, err := os.Stat(p)
		if err != nil {
			t.Errorf("expected directory %s to exist", d)
		} else if !info.IsDir() {
			t.Errorf("expected %s to be a directory", d)
		}
	}

	// config.yaml should exist
	if _, err := os.Stat(filepath.Join(root, "config.yaml")); err != nil {
		t.Error("expected config.yaml to exist")
	}

	// Second init should fail without force
	if err := Init(root, false); err == nil {
		t.Error("expected error on duplicate init")
	}

	// Force should succeed
	if err := Init(root, true); err != nil {
		t.Errorf("expected force init to succeed: %v", err)
	}
}

func TestOpenCreatesScope(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, ".sidecar")

	// No init: Open should still succeed with defaults
	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if s.Root != root {
		t.Errorf("expected Root=%s, got %s", root, s.Root)
	}
	if s.Config.Search.MaxResults != 20 {
		t.Errorf("expected default search.max_results, got %d", s.Config.Search.MaxResults)
	}
	for _, d := range []string{"debug", "sessions"} {
		if _, err := os.Stat(filepath.Join(root, d)); err != nil {
			t.Errorf("expected Open to create %s dir", d)
		}
	}
}

func TestOpenMergesDefaults(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, ".sidecar")
	Init(root, false)

	// Write a minimal config with only version
	os.WriteFile(filepath.Join(root, "config.yaml"), []byte("version: \"1\"\n"), 0644)

	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if s.Config.Session.DefaultTimeoutSeconds != 600 {
		t.Errorf("expected default timeout, got %d", s.Config.Session.DefaultTimeoutSeconds)
	}
	if s.Config.Web.Addr == "" {
		t.Error("expected default web.addr to be filled in")
	}
}

func TestPath(t *testing.T) {
	s := &Store{Root: "/tmp/.sidecar"}
	got := s.Path("debug", "abc.json")
	want := filepath.Join("/tmp/.sidecar", "debug", "abc.json")
	if got != want {
		t.Errorf("Path() = %s, want %s", got, want)
	}
}

func TestResolve(t *testing.T) {
	t.Setenv("SIDECAR_HOME", "/custom/sidecar")

	proj := Resolve("/some/project", false)
	if proj != filepath.Join("/some/project", ".sidecar") {
		t.Errorf("project scope = %s", proj)
	}

	global := Resolve("/some/project", true)
	wantPrefix := filepath.Join("/custom/sidecar", "projects")
	if filepath.Dir(global) != wantPrefix {
		t.Errorf("global scope = %s, want under %s", global, wantPrefix)
	}
	if len(filepath.Base(global)) != 12 {
		t.Errorf("expected 12-char project hash, got %s", filepath.Base(global))
	}
}

func TestProjectHashStable(t *testing.T) {
	a := ProjectHash("/some/project")
	b := ProjectHash("/some/project")
	if a != b {
		t.Errorf("hash not stable: %s vs %s", a, b)
	}
	if a == ProjectHash("/other/project") {
		t.Error("distinct projects hashed to the same value")
	}
}

func TestGlobalRootEnvVar(t *testing.T) {
	t.Setenv("SIDECAR_HOME", "/custom/path")
	if got := GlobalRoot(); got != "/custom/path" {
		t.Errorf("GlobalRoot() = %s, want /custom/path", got)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Search.MaxResults != 20 {
		t.Errorf("expected max_results 20, got %d", cfg.Search.MaxResults)
	}
	if cfg.Search.MinTokenLen != 3 {
		t.Errorf("expected min_token_len 3, got %d", cfg.Search.MinTokenLen)
	}
	if cfg.Session.DefaultTimeoutSeconds != 600 {
		t.Errorf("expected default_timeout_seconds 600, got %d", cfg.Session.DefaultTimeoutSeconds)
	}
	if cfg.Web.Addr != "127.0.0.1:8731" {
		t.Errorf("expected default web addr, got %s", cfg.Web.Addr)
	}
}

func TestSetConfigValue(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, ".sidecar")
	Init(root, false)
	s, _ := Open(root)

	if err := s.SetConfigValue("session.default_timeout_seconds", "300"); err != nil {
		t.Fatal(err)
	}
	if s.Config.Session.DefaultTimeoutSeconds != 300 {
		t.Errorf("expected updated timeout, got %d", s.Config.Session.DefaultTimeoutSeconds)
	}

	// Reload and verify persistence
	s2, _ := Open(root)
	if s2.Config.Session.DefaultTimeoutSeconds != 300 {
		t.Errorf("config not persisted, got %d", s2.Config.Session.DefaultTimeoutSeconds)
	}
}

func TestSetConfigValue_InvalidKey(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, ".sidecar")
	Init(root, false)
	s, _ := Open(root)

	if err := s.SetConfigValue("nonexistent.key", "value"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestSetConfigValue_OutOfRange(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, ".sidecar")
	Init(root, false)
	s, _ := Open(root)

	if err := s.SetConfigValue("search.max_results", "500"); err == nil {
		t.Error("expected error for out-of-range max_results")
	}
	if err := s.SetConfigValue("session.default_timeout_seconds", "notanumber"); err == nil {
		t.Error("expected error for non-integer value")
	}
}

func TestCheckHealth(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, ".sidecar")
	Init(root, false)

	issues := CheckHealth(root)
	if len(issues) != 0 {
		t.Errorf("expected no issues, got %v", issues)
	}

	// Remove a directory to trigger an issue
	os.RemoveAll(filepath.Join(root, "debug"))
	issues = CheckHealth(root)
	if len(issues) == 0 {
		t.Error("expected issues after removing debug dir")
	}
}

func TestCheckHealth_CorruptIndex(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, ".sidecar")
	Init(root, false)

	os.WriteFile(filepath.Join(root, "debug", "index.json"), []byte("{not json"), 0644)
	issues := CheckHealth(root)
	if len(issues) != 1 {
		t.Fatalf("expected one issue, got %v", issues)
	}
	if issues[0].Severity != "warning" {
		t.Errorf("corrupt index should be a warning, got %s", issues[0].Severity)
	}
}

func TestFixIssues(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, ".sidecar")
	Init(root, false)

	// Remove debug dir
	os.RemoveAll(filepath.Join(root, "debug"))

	fixed := FixIssues(root)
	if len(fixed) == 0 {
		t.Error("expected at least one fix")
	}

	// Verify directory was recreated
	if _, err := os.Stat(filepath.Join(root, "debug")); err != nil {
		t.Error("debug dir not recreated")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "index.json")

	if err := WriteFileAtomic(path, []byte(`{"v":1}`)); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"v":1}` {
		t.Errorf("unexpected content: %s", data)
	}

	// Overwrite replaces in full
	if err := WriteFileAtomic(path, []byte(`{"v":2}`)); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != `{"v":2}` {
		t.Errorf("unexpected content after overwrite: %s", data)
	}

	// No temp files left behind
	entries, _ := os.ReadDir(tmp)
	if len(entries) != 1 {
		t.Errorf("expected only index.json in dir, got %d entries", len(entries))
	}
}
