package config

import (
	"testing"
)

// memBackend is an in-memory ConfigBackend test double.
type memBackend struct {
	strings map[string]string
	ints    map[string]int
}

func newMemBackend() *memBackend {
	return &memBackend{strings: map[string]string{}, ints: map[string]int{}}
}

func (m *memBackend) GetString(key string) (string, bool, error) {
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *memBackend) SetString(key, val string) error {
	m.strings[key] = val
	return nil
}

func (m *memBackend) SetInt(key string, val int) error {
	m.ints[key] = val
	return nil
}
func (m *memBackend) Delete(key string) error {
	delete(m.strings, key)
	delete(m.ints, key)
	return nil
}

func TestDefaults(t *testing.T) {
	cfg, err := loadWith(newMemBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Server.MCPPort != 8001 {
		t.Errorf("Server.MCPPort = %d, want 8001", cfg.Server.MCPPort)
	}
	if cfg.Server.APIToken != "" {
		t.Errorf("Server.APIToken = %q, want empty (auth disabled)", cfg.Server.APIToken)
	}
	if cfg.Model.Endpoint != "http://127.0.0.1:1234/v1/chat/completions" {
		t.Errorf("Model.Endpoint = %q", cfg.Model.Endpoint)
	}
	if cfg.Model.Name != "google/gemma-3n-e4b" {
		t.Errorf("Model.Name = %q", cfg.Model.Name)
	}
	if cfg.Model.Temperature != 0.2 {
		t.Errorf("Model.Temperature = %v, want 0.2", cfg.Model.Temperature)
	}
	if cfg.Model.MaxTokens != 1024 {
		t.Errorf("Model.MaxTokens = %d, want 1024", cfg.Model.MaxTokens)
	}
	if cfg.Retrieval.MaxTurns != 1000 {
		t.Errorf("Retrieval.MaxTurns = %d, want 1000", cfg.Retrieval.MaxTurns)
	}
	if cfg.Media.FetchTimeout != "10s" {
		t.Errorf("Media.FetchTimeout = %q, want 10s", cfg.Media.FetchTimeout)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestBackendValuesOverrideDefaults(t *testing.T) {
	b := newMemBackend()
	b.ints["server.port"] = 9090
	b.strings["model.name"] = "llama-3.2"
	b.strings["model.temperature"] = "0.7"

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Model.Name != "llama-3.2" {
		t.Errorf("Model.Name = %q, want llama-3.2", cfg.Model.Name)
	}
	if cfg.Model.Temperature != 0.7 {
		t.Errorf("Model.Temperature = %v, want 0.7", cfg.Model.Temperature)
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	b := newMemBackend()
	b.ints["server.port"] = 9090

	t.Setenv("MEDRA_SERVER_PORT", "7070")
	t.Setenv("MEDRA_MODEL_ENDPOINT", "http://10.0.0.5:1234/v1/chat/completions")
	t.Setenv("MEDRA_API_TOKEN", "sekrit")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want env override 7070", cfg.Server.Port)
	}
	if cfg.Model.Endpoint != "http://10.0.0.5:1234/v1/chat/completions" {
		t.Errorf("Model.Endpoint = %q", cfg.Model.Endpoint)
	}
	if cfg.Server.APIToken != "sekrit" {
		t.Errorf("Server.APIToken = %q, want env value", cfg.Server.APIToken)
	}
}

func TestEnvBadIntegerKeepsDefault(t *testing.T) {
	t.Setenv("MEDRA_SERVER_PORT", "not-a-number")

	cfg, err := loadWith(newMemBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want default on parse failure", cfg.Server.Port)
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg, err := loadWith(newMemBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, ki := range ShowAll(cfg) {
		if ki.Key == "server.api_token" {
			t.Fatal("ShowAll must not expose the API token")
		}
	}
}

func TestValidKeysExcludeSecrets(t *testing.T) {
	for _, k := range ValidKeys() {
		if k == "server.api_token" {
			t.Fatal("ValidKeys must not list the API token")
		}
	}
}
