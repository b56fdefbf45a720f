package config

type Config struct {
	Server  ServerConfig
	Ollama  OllamaConfig
	Storage StorageConfig
	Log     LogConfig
	Worker  WorkerConfig
}

type ServerConfig struct {
	Port int
}

type OllamaConfig struct {
	BaseURL   string
	FastModel string
	DeepModel string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type WorkerConfig struct {
	PollIntervalMS int
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		Ollama: OllamaConfig{
			BaseURL:   "http://localhost:11434",
			FastModel: "phi3.5",
			DeepModel: "mistral-nemo",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Worker: WorkerConfig{
			PollIntervalMS: 500,
		},
	}
}

// Load reads configuration from the platform-native backend and then
// applies environment overrides.
//
// On macOS the backend is UserDefaults (domain: com.doppel.app).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/doppel/config.json.
//
// Environment variables (DOPPEL_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}
