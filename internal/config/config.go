package config

type Config struct {
	Server    ServerConfig
	Model     ModelConfig
	Storage   StorageConfig
	Retrieval RetrievalConfig
	Media     MediaConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
	// APIToken protects the HTTP API with bearer auth. Empty disables
	// auth, which is the expected setup for a localhost deployment.
	APIToken string
}

type ModelConfig struct {
	Endpoint     string
	Name         string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

type StorageConfig struct {
	DataDir string
}

type RetrievalConfig struct {
	MaxTurns int
	// KeywordsFile points at a JSON vocabulary override; empty uses
	// the built-in clinical vocabulary.
	KeywordsFile string
}

type MediaConfig struct {
	FetchTimeout string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port:    8000,
			MCPPort: 8001,
		},
		Model: ModelConfig{
			Endpoint:     "http://127.0.0.1:1234/v1/chat/completions",
			Name:         "google/gemma-3n-e4b",
			SystemPrompt: "You are a helpful medical assistant.",
			Temperature:  0.2,
			MaxTokens:    1024,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Retrieval: RetrievalConfig{
			MaxTurns: 1000,
		},
		Media: MediaConfig{
			FetchTimeout: "10s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, then
// applies environment variable overrides.
//
// On macOS the backend is UserDefaults (domain: com.medra.app).
// On Linux the backend is a JSON file at
// $XDG_CONFIG_HOME/medra/config.json.
//
// Environment variables (MEDRA_*) override backend values on all
// platforms. The API token is env-only and never written to a backend.
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
