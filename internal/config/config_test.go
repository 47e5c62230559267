package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATA_DIR", "state")
	t.Setenv("JOB_TIMEOUT_MS", "")
	t.Setenv("MAX_UPLOAD_MB", "")

	cfg := Load()
	if cfg.SettingsFile != filepath.Join("state", "config.json") || cfg.HistoryFile != filepath.Join("state", "history.json") {
		t.Fatalf("expected files under data dir, got %s %s", cfg.SettingsFile, cfg.HistoryFile)
	}
	if cfg.JobTimeout != time.Hour || cfg.MaxUploadBytes != 20*1024*1024 || cfg.HistoryMaxItems != 50 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GEMINI_POLL_MAX_WAIT_MS", "1500")
	t.Setenv("DOWNLOAD_WORKERS", "not-a-number")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test ,")

	cfg := Load()
	if cfg.GeminiPollMaxWait != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s poll wait, got %s", cfg.GeminiPollMaxWait)
	}
	if cfg.DownloadWorkers != 3 {
		t.Fatalf("expected fallback on bad int, got %d", cfg.DownloadWorkers)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "http://b.test" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadDotEnvKeepsProcessEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("VIDAI_TEST_A=from-file\nVIDAI_TEST_B=\"quoted value\"\n"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("VIDAI_TEST_A", "from-env")
	t.Setenv("VIDAI_TEST_B", "")
	os.Unsetenv("VIDAI_TEST_B")

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got := os.Getenv("VIDAI_TEST_A"); got != "from-env" {
		t.Fatalf("expected process env to win, got %q", got)
	}
	if got := os.Getenv("VIDAI_TEST_B"); got != "quoted value" {
		t.Fatalf("expected quoted value, got %q", got)
	}
}
