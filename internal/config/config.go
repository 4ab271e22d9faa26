// Package config loads service configuration from defaults, an optional .env
// file, and MODSWIPE_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Nexus   NexusConfig
	Storage StorageConfig
	Supply  SupplyConfig
}

type ServerConfig struct {
	Port      int
	AuthToken string
}

type NexusConfig struct {
	BaseURL    string
	APIKey     string
	AppName    string
	AppVersion string
}

type StorageConfig struct {
	DataDir string
}

type SupplyConfig struct {
	LowQueueThreshold int
	CooldownSeconds   int
	MaxSplice         int
	BatchSize         int
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:      4600,
			AuthToken: "modswipe-local",
		},
		Nexus: NexusConfig{
			BaseURL:    "https://api.nexusmods.com",
			AppName:    "modswipe",
			AppVersion: "0.1.0",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Supply: SupplyConfig{
			LowQueueThreshold: 20,
			CooldownSeconds:   60,
			MaxSplice:         50,
			BatchSize:         10,
		},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "modswipe")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "modswipe")
	}
	return "modswipe-data"
}

// Load reads configuration. A .env file in the working directory is applied
// first if present; MODSWIPE_* environment variables override everything.
// The remote API key is the only required value.
func Load() (Config, error) {
	// Missing .env is fine; exported variables win over the file.
	_ = godotenv.Load()

	cfg := defaults()
	applyEnvOverrides(&cfg)

	if cfg.Nexus.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: remote API key. Set MODSWIPE_API_KEY or add it to .env")
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	envString("MODSWIPE_API_KEY", &cfg.Nexus.APIKey)
	envString("MODSWIPE_BASE_URL", &cfg.Nexus.BaseURL)
	envString("MODSWIPE_APP_NAME", &cfg.Nexus.AppName)
	envString("MODSWIPE_APP_VERSION", &cfg.Nexus.AppVersion)
	envString("MODSWIPE_AUTH_TOKEN", &cfg.Server.AuthToken)
	envString("MODSWIPE_DATA_DIR", &cfg.Storage.DataDir)
	envInt("MODSWIPE_PORT", &cfg.Server.Port)
	envInt("MODSWIPE_LOW_QUEUE_THRESHOLD", &cfg.Supply.LowQueueThreshold)
	envInt("MODSWIPE_COOLDOWN_SECONDS", &cfg.Supply.CooldownSeconds)
	envInt("MODSWIPE_MAX_SPLICE", &cfg.Supply.MaxSplice)
	envInt("MODSWIPE_BATCH_SIZE", &cfg.Supply.BatchSize)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	i, err := strconv.Atoi(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", key, raw, err)
		return
	}
	*dst = i
}
