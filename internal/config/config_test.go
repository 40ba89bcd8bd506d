package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Default()

	if cfg.Monitor.PollInterval.Duration != 2*time.Second {
		t.Errorf("PollInterval = %v, want 2s", cfg.Monitor.PollInterval)
	}
	if cfg.Monitor.LogRetryDelay.Duration != 800*time.Millisecond {
		t.Errorf("LogRetryDelay = %v, want 800ms", cfg.Monitor.LogRetryDelay)
	}
	if cfg.Monitor.ExcerptLimit != 30 {
		t.Errorf("ExcerptLimit = %d, want 30", cfg.Monitor.ExcerptLimit)
	}
	if len(cfg.Monitor.FailureKeywords) != 3 {
		t.Errorf("FailureKeywords = %v, want 3 defaults", cfg.Monitor.FailureKeywords)
	}
	if cfg.Web.Addr() != "127.0.0.1:8080" {
		t.Errorf("Web.Addr() = %q, want 127.0.0.1:8080", cfg.Web.Addr())
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := writeTempConfig(t, `
[api]
base_url = "https://automate.example.com/api"
project_id = "12"
timeout = "5s"

[monitor]
poll_interval = "500ms"
failure_keywords = ["error", "timeout"]

[web]
port = 9000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.API.BaseURL != "https://automate.example.com/api" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.API.ProjectID != "12" {
		t.Errorf("ProjectID = %q, want 12", cfg.API.ProjectID)
	}
	if cfg.API.Timeout.Duration != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.API.Timeout)
	}
	if cfg.Monitor.PollInterval.Duration != 500*time.Millisecond {
		t.Errorf("PollInterval = %v, want 500ms", cfg.Monitor.PollInterval)
	}
	if cfg.Monitor.LogRetryDelay.Duration != 800*time.Millisecond {
		t.Errorf("LogRetryDelay should keep default, got %v", cfg.Monitor.LogRetryDelay)
	}
	if len(cfg.Monitor.FailureKeywords) != 2 || cfg.Monitor.FailureKeywords[1] != "timeout" {
		t.Errorf("FailureKeywords = %v", cfg.Monitor.FailureKeywords)
	}
	if cfg.Web.Port != 9000 {
		t.Errorf("Web.Port = %d, want 9000", cfg.Web.Port)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Monitor.ExcerptLimit != 30 {
		t.Errorf("ExcerptLimit = %d, want 30", cfg.Monitor.ExcerptLimit)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeTempConfig(t, `
[monitor]
poll_interval = "soon"
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"missing base url", func(c *Config) { c.API.BaseURL = "" }, true},
		{"zero poll interval", func(c *Config) { c.Monitor.PollInterval.Duration = 0 }, true},
		{"negative retry delay", func(c *Config) { c.Monitor.LogRetryDelay.Duration = -time.Second }, true},
		{"empty keywords restored", func(c *Config) { c.Monitor.FailureKeywords = nil }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && len(cfg.Monitor.FailureKeywords) == 0 {
				t.Error("Validate() should restore default keywords")
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		got := ExpandPath(tt.input)
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFindLocalConfig(t *testing.T) {
	root := t.TempDir()
	subdir := filepath.Join(root, "sub", "dir")
	if err := os.MkdirAll(subdir, 0755); err != nil {
		t.Fatal(err)
	}

	localConfig := filepath.Join(root, LocalConfigName)
	if err := os.WriteFile(localConfig, []byte("[api]\nproject_id = \"3\""), 0644); err != nil {
		t.Fatal(err)
	}

	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)

	if err := os.Chdir(subdir); err != nil {
		t.Fatal(err)
	}

	found := FindLocalConfig()
	if found != localConfig {
		t.Errorf("FindLocalConfig() = %q, want %q", found, localConfig)
	}

	cfg, err := LoadWithLocalFallback("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.API.ProjectID != "3" {
		t.Errorf("ProjectID = %q, want 3", cfg.API.ProjectID)
	}
}

func TestResolvePath_Explicit(t *testing.T) {
	if got := ResolvePath("/etc/taskpilot.toml"); got != "/etc/taskpilot.toml" {
		t.Errorf("ResolvePath() = %q", got)
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := writeTempConfig(t, "[monitor]\nfailure_keywords = [\"error\"]\n")

	var mu sync.Mutex
	var got []string
	reloaded := make(chan struct{}, 1)

	w, err := NewWatcher(path, func(cfg *Config) {
		mu.Lock()
		got = cfg.Monitor.FailureKeywords
		mu.Unlock()
		select {
		case reloaded <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("[monitor]\nfailure_keywords = [\"error\", \"denied\"]\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-reloaded:
	case <-time.After(3 * time.Second):
		t.Fatal("config was not reloaded")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[1] != "denied" {
		t.Errorf("reloaded keywords = %v", got)
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}
