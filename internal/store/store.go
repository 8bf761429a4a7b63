package store

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SearchConfig holds query engine settings.
type SearchConfig struct {
	MaxResults  int `yaml:"max_results"`
	MinTokenLen int `yaml:"min_token_len"`
}

// SessionConfig holds learning session behavior settings.
type SessionConfig struct {
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds"`
	MaxSessionsKept       int `yaml:"max_sessions_kept"`
}

// WebConfig holds the learning UI server settings.
type WebConfig struct {
	Addr string `yaml:"addr"`
}

// Config holds sidecar configuration, stored as config.yaml in the scope root.
type Config struct {
	Version string        `yaml:"version"`
	Search  SearchConfig  `yaml:"search,omitempty"`
	Session SessionConfig `yaml:"session,omitempty"`
	Web     WebConfig     `yaml:"web,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Version: "1",
		Search: SearchConfig{
			MaxResults:  20,
			MinTokenLen: 3,
		},
		Session: SessionConfig{
			DefaultTimeoutSeconds: 600,
			MaxSessionsKept:       100,
		},
		Web: WebConfig{
			Addr: "127.0.0.1:8731",
		},
	}
}

// Store represents an opened sidecar scope, either a project-local .sidecar/
// directory or a per-project subtree of the global config dir. Records under
// different scopes never share ids or postings.
type Store struct {
	Root   string
	Config Config
}

// Issue represents a health check finding.
type Issue struct {
	Severity string // "warning" or "error"
	Message  string
}

// GlobalRoot returns the global sidecar directory, respecting the
// SIDECAR_HOME and XDG_CONFIG_HOME env vars.
func GlobalRoot() string {
	if h := os.Getenv("SIDECAR_HOME"); h != "" {
		return h
	}
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, "sidecar")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".sidecar")
	}
	return filepath.Join(home, ".config", "sidecar")
}

// ProjectHash returns a short stable hash identifying a project directory.
// It keys per-project subtrees under the global scope.
func ProjectHash(projectDir string) string {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		abs = projectDir
	}
	sum := md5.Sum([]byte(abs))
	return hex.EncodeToString(sum[:])[:12]
}

// Resolve returns the scope root for a project. Project-level storage lives
// at <project>/.sidecar; global storage lives at <global>/projects/<hash> so
// distinct projects never collide.
func Resolve(projectDir string, useGlobal bool) string {
	if useGlobal {
		return filepath.Join(GlobalRoot(), "projects", ProjectHash(projectDir))
	}
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		abs = projectDir
	}
	return filepath.Join(abs, ".sidecar")
}

// Init creates the scope directory structure and writes a default config.
func Init(root string, force bool) error {
	cfgPath := filepath.Join(root, "config.yaml")
	if _, err := os.Stat(cfgPath); err == nil && !force {
		return fmt.Errorf("sidecar scope already initialized at %s (use --force to reinitialize)", root)
	}

	for _, d := range []string{root, filepath.Join(root, "debug"), filepath.Join(root, "sessions")} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", d, err)
		}
	}

	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(cfgPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Open loads a scope, creating directories and falling back to the default
// config on first use. MCP tool calls hit this path before any explicit
// init, so Open is lenient where an explicit load would fail.
func Open(root string) (*Store, error) {
	for _, d := range []string{root, filepath.Join(root, "debug"), filepath.Join(root, "sessions")} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("cannot create scope directory %s: %w", d, err)
		}
	}

	cfg := DefaultConfig()
	cfgPath := filepath.Join(root, "config.yaml")
	if data, err := os.ReadFile(cfgPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("invalid config.yaml: %w", err)
		}
	}
	return &Store{Root: root, Config: cfg}, nil
}

// SaveConfig writes the current config to config.yaml.
func (s *Store) SaveConfig() error {
	data, err := yaml.Marshal(s.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	cfgPath := filepath.Join(s.Root, "config.yaml")
	if err := os.WriteFile(cfgPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// SetConfigValue sets a config value by dot-path key (e.g. "search.max_results").
func (s *Store) SetConfigValue(key, value string) error {
	switch key {
	case "search.max_results":
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err != nil || n < 1 || n > 20 {
			return fmt.Errorf("search.max_results must be an integer between 1 and 20")
		}
		s.Config.Search.MaxResults = n
	case "search.min_token_len":
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err != nil || n < 1 {
			return fmt.Errorf("search.min_token_len must be a positive integer")
		}
		s.Config.Search.MinTokenLen = n
	case "session.default_timeout_seconds":
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err != nil || n < 60 || n > 7200 {
			return fmt.Errorf("session.default_timeout_seconds must be an integer between 60 and 7200")
		}
		s.Config.Session.DefaultTimeoutSeconds = n
	case "session.max_sessions_kept":
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err != nil || n < 1 {
			return fmt.Errorf("session.max_sessions_kept must be a positive integer")
		}
		s.Config.Session.MaxSessionsKept = n
	case "web.addr":
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("web.addr must not be empty")
		}
		s.Config.Web.Addr = value
	default:
		return fmt.Errorf("unknown config key: %s\nValid keys: search.max_results, search.min_token_len, session.default_timeout_seconds, session.max_sessions_kept, web.addr", key)
	}
	return s.SaveConfig()
}

// Path resolves a path within the scope root.
func (s *Store) Path(parts ...string) string {
	all := append([]string{s.Root}, parts...)
	return filepath.Join(all...)
}

// CheckHealth verifies scope structure integrity.
func CheckHealth(root string) []Issue {
	var issues []Issue

	for _, dir := range []string{"debug", "sessions"} {
		p := filepath.Join(root, dir)
		info, err := os.Stat(p)
		if err != nil {
			issues = append(issues, Issue{"error", fmt.Sprintf("missing directory: %s", p)})
		} else if !info.IsDir() {
			issues = append(issues, Issue{"error", fmt.Sprintf("expected directory but found file: %s", p)})
		}
	}

	cfgPath := filepath.Join(root, "config.yaml")
	if data, err := os.ReadFile(cfgPath); err == nil {
		var cfg Config
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			issues = append(issues, Issue{"error", fmt.Sprintf("config.yaml is not valid YAML: %v", err)})
		}
	}

	// An unparseable debug index is a warning, not an error: readers degrade
	// to empty results and `doctor --fix` rebuilds it from detail files.
	idxPath := filepath.Join(root, "debug", "index.json")
	if data, err := os.ReadFile(idxPath); err == nil {
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			issues = append(issues, Issue{"warning", fmt.Sprintf("debug index is corrupt (run 'sidecar doctor --fix' to rebuild): %v", err)})
		}
	}

	return issues
}

// FixIssues attempts to repair simple issues in the scope.
func FixIssues(root string) []string {
	var fixed []string

	for _, dir := range []string{"debug", "sessions"} {
		p := filepath.Join(root, dir)
		if _, err := os.Stat(p); err != nil {
			if err := os.MkdirAll(p, 0755); err == nil {
				fixed = append(fixed, fmt.Sprintf("recreated missing directory: %s", dir))
			}
		}
	}

	cfgPath := filepath.Join(root, "config.yaml")
	if _, err := os.Stat(cfgPath); err != nil {
		cfg := DefaultConfig()
		data, _ := yaml.Marshal(cfg)
		if os.WriteFile(cfgPath, data, 0644) == nil {
			fixed = append(fixed, "recreated missing config.yaml with defaults")
		}
	}

	return fixed
}

// WriteFileAtomic writes data to path via a temp file and rename, so readers
// observe either the old content or the new content, never a partial write.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("cannot create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cannot replace %s: %w", path, err)
	}
	return nil
}
