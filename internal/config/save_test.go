package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestSaveCreatesFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	cfg.Server.Addr = ":7000"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}
	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("Config file contains invalid JSON: %v", err)
	}
	if loaded.Server.Addr != ":7000" {
		t.Errorf("Expected addr ':7000', got '%s'", loaded.Server.Addr)
	}
}

func TestSaveYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Notify.WebhookURLs = []string{"https://example.com/hook"}

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}
	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("Config file contains invalid YAML: %v", err)
	}
	if len(loaded.Notify.WebhookURLs) != 1 || loaded.Claim.TTLMinutes != 60 {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestSaveCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "config.json")

	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("Config file was not created: %s", path)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			cfg := DefaultConfig()
			cfg.Claim.TTLMinutes = 45
			cfg.Log.Level = "warn"

			if err := Save(cfg, path); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			loaded, err := Load("", path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if loaded.Claim.TTLMinutes != 45 || loaded.Log.Level != "warn" {
				t.Errorf("round trip lost settings: %+v", loaded)
			}
		})
	}
}
