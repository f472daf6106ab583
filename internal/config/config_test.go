package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	var cfg Config
	cfg.Server.Port = 8888
	cfg.Database.InMemory = true
	cfg.AI.Provider = "langchain"
	cfg.AI.APIKey = "test-key"
	cfg.AI.Model = "gpt-4o-mini"
	cfg.Transcription.Model = "whisper-1"
	return &cfg
}

func TestValidateAcceptsInMemory(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 70000

	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestValidateRejectsMissingAPIKey(t *testing.T) {
	cfg := validConfig()
	cfg.AI.APIKey = ""

	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for missing ai api_key")
	}
}

func TestValidateAcceptsConfiguredDatabaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.Database.InMemory = false
	cfg.Database.URL = "postgres://localhost:5432/pitchcoach"

	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestValidateAcceptsDatabaseURLFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/pitchcoach")

	cfg := validConfig()
	cfg.Database.InMemory = false

	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate failed with DATABASE_URL set: %v", err)
	}
}

func TestValidateDiscoversDotEnvFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("DATABASE_URL=postgres://localhost:5432/pitchcoach\n"), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Chdir(dir)

	cfg := validConfig()
	cfg.Database.InMemory = false

	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate failed with discoverable .env: %v", err)
	}
}

func TestValidateRejectsUnresolvableDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Chdir(t.TempDir())

	cfg := validConfig()
	cfg.Database.InMemory = false

	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when no database URL can be resolved")
	}
}

func TestValidateRejectsQueueWithInMemoryStore(t *testing.T) {
	cfg := validConfig()
	cfg.Queue.Enabled = true

	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for queue with in-memory store")
	}
}

func TestLoadConfigAppliesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pitchcoach.toml")
	content := `
[ai]
api_key = "file-key"

[transcription]
base_url = "http://localhost:8000/v1"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.AI.APIKey != "file-key" {
		t.Errorf("expected api key from file, got %q", cfg.AI.APIKey)
	}
	if cfg.Transcription.BaseURL != "http://localhost:8000/v1" {
		t.Errorf("expected transcription base_url from file, got %q", cfg.Transcription.BaseURL)
	}

	// Defaults still fill in what the file omits.
	if cfg.AI.Provider != "langchain" {
		t.Errorf("expected default provider, got %q", cfg.AI.Provider)
	}
	if cfg.Server.Port != 8888 {
		t.Errorf("expected default port, got %d", cfg.Server.Port)
	}
	if cfg.Transcription.Model != "whisper-1" {
		t.Errorf("expected default transcription model, got %q", cfg.Transcription.Model)
	}
}
