package config

import (
	"errors"
	"testing"
)

// mapBackend is an in-memory ConfigBackend for testing.
type mapBackend struct {
	strings map[string]string
	ints    map[string]int
}

func newMapBackend() *mapBackend {
	return &mapBackend{strings: map[string]string{}, ints: map[string]int{}}
}

func (b *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := b.strings[key]
	return v, ok, nil
}

func (b *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.ints[key]
	return v, ok, nil
}

func (b *mapBackend) SetString(key, val string) error { b.strings[key] = val; return nil }
func (b *mapBackend) SetInt(key string, val int) error { b.ints[key] = val; return nil }
func (b *mapBackend) Delete(key string) error {
	delete(b.strings, key)
	delete(b.ints, key)
	return nil
}

func TestDefaults(t *testing.T) {
	for _, s := range specs {
		t.Setenv(s.env, "")
	}

	cfg, err := loadWith(newMapBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4200 {
		t.Errorf("Server.Port = %d, want 4200", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Ollama.FastModel != "phi3.5" {
		t.Errorf("Ollama.FastModel = %q", cfg.Ollama.FastModel)
	}
	if cfg.Ollama.DeepModel != "mistral-nemo" {
		t.Errorf("Ollama.DeepModel = %q", cfg.Ollama.DeepModel)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.Worker.PollIntervalMS != 500 {
		t.Errorf("Worker.PollIntervalMS = %d", cfg.Worker.PollIntervalMS)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir empty")
	}
}

func TestBackendValues(t *testing.T) {
	for _, s := range specs {
		t.Setenv(s.env, "")
	}

	b := newMapBackend()
	b.ints["server.port"] = 5000
	b.strings["ollama.deep_model"] = "llama3.1:70b"
	b.strings["storage.data_dir"] = "/tmp/doppel-test"

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Ollama.DeepModel != "llama3.1:70b" {
		t.Errorf("Ollama.DeepModel = %q", cfg.Ollama.DeepModel)
	}
	if cfg.Storage.DataDir != "/tmp/doppel-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	// Untouched keys keep their defaults.
	if cfg.Ollama.FastModel != "phi3.5" {
		t.Errorf("Ollama.FastModel = %q, want default", cfg.Ollama.FastModel)
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	for _, s := range specs {
		t.Setenv(s.env, "")
	}

	b := newMapBackend()
	b.ints["server.port"] = 5000
	t.Setenv("DOPPEL_SERVER_PORT", "6000")
	t.Setenv("DOPPEL_OLLAMA_BASE_URL", "http://gpu-box:11434")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want env override 6000", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://gpu-box:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
}

func TestInvalidEnvIntKeepsDefault(t *testing.T) {
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
	t.Setenv("DOPPEL_SERVER_PORT", "not-a-number")

	cfg, err := loadWith(newMapBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4200 {
		t.Errorf("Server.Port = %d, want default kept", cfg.Server.Port)
	}
}

func TestShowAllCoversAllKeys(t *testing.T) {
	infos := ShowAll(defaults())
	if len(infos) != len(specs) {
		t.Fatalf("ShowAll returned %d keys, want %d", len(infos), len(specs))
	}
	for _, info := range infos {
		if info.Key == "" || info.EnvVar == "" {
			t.Errorf("incomplete key info: %+v", info)
		}
	}
}

// mockKeychain is a test double for the Keychain interface.
type mockKeychain struct {
	values map[string]string
}

func (m *mockKeychain) Get(service, account string) (string, error) {
	v, ok := m.values[service+"/"+account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m *mockKeychain) Set(service, account, value string) error {
	m.values[service+"/"+account] = value
	return nil
}

func TestGetAPITokenGeneratesOnce(t *testing.T) {
	kc := &mockKeychain{values: map[string]string{}}

	first, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if len(first) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(first))
	}

	second, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if second != first {
		t.Error("token regenerated instead of reused")
	}
}

func TestGetAPITokenUsesExisting(t *testing.T) {
	kc := &mockKeychain{values: map[string]string{"doppel/api_token": "preset-token"}}
	token, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if token != "preset-token" {
		t.Errorf("token = %q, want preset", token)
	}
}
