package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(prev) })
}

func TestLoadYAMLThenEnvOverrides(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  addr: ":9090"
  workers: 3
storage:
  container: "other-container"
  sas_expiry: 30m
document_intelligence:
  endpoint: "https://yaml.example.com"
jobs:
  store: redis
`)
	t.Setenv("NUM_WORKERS", "7")
	t.Setenv("AZURE_STORAGE_CONNECTION_STRING", "  AccountName=acct;AccountKey=a2V5\r\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.Workers != 7 {
		t.Fatalf("Workers = %d, want env override 7", cfg.Server.Workers)
	}
	if cfg.Storage.Container != "other-container" || cfg.Storage.SASExpiry != 30*time.Minute {
		t.Fatalf("unexpected storage config: %+v", cfg.Storage)
	}
	if cfg.Storage.ConnectionString != "AccountName=acct;AccountKey=a2V5" {
		t.Fatalf("connection string not cleaned: %q", cfg.Storage.ConnectionString)
	}
	if cfg.DocIntel.Endpoint != "https://yaml.example.com" || cfg.DocIntel.ModelID != "prebuilt-read" {
		t.Fatalf("unexpected doc intel config: %+v", cfg.DocIntel)
	}
	if cfg.Jobs.Store != StoreRedis {
		t.Fatalf("Store = %q", cfg.Jobs.Store)
	}
}

func TestLoadMissingDefaultFileUsesDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	chdir(t, t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.Container != DefaultContainer || cfg.Storage.SASExpiry != time.Hour {
		t.Fatalf("unexpected defaults: %+v", cfg.Storage)
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestLoadDotEnv(t *testing.T) {
	env := writeFile(t, ".env", "DOCUMENT_INTELLIGENCE_KEY=from-dotenv\n")
	t.Setenv("DOCUMENT_INTELLIGENCE_KEY", "")
	os.Unsetenv("DOCUMENT_INTELLIGENCE_KEY")
	t.Setenv("CONFIG_FILE", "")
	chdir(t, t.TempDir())

	cfg, err := Load("", env)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DocIntel.Key != "from-dotenv" {
		t.Fatalf("Key = %q", cfg.DocIntel.Key)
	}
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing connection string error")
	}

	cfg.Storage.ConnectionString = "AccountName=acct;AccountKey=a2V5"
	cfg.Server.Workers = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	cfg.Server.Workers = 1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected doc intel endpoint to be required when workers run")
	}

	cfg.Extractor.Backend = BackendLocal
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() with local backend error = %v", err)
	}

	cfg.Jobs.Store = StorePostgres
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected DB_URL to be required for postgres store")
	}
}
