package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration
type Config struct {
	API struct {
		URL            string `koanf:"url"`
		TimeoutMinutes int    `koanf:"timeout_minutes"`
	} `koanf:"api"`

	Session struct {
		Path string `koanf:"path"`
	} `koanf:"session"`

	Export struct {
		Dir string `koanf:"dir"`
	} `koanf:"export"`

	Log struct {
		Level         string `koanf:"level"`
		TranscriptDir string `koanf:"transcript_dir"`
	} `koanf:"log"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"api.url":             "http://localhost:8000",
		"api.timeout_minutes": 10,
		"session.path":        defaultSessionPath(),
		"export.dir":          ".",
		"log.level":           "info",
		"log.transcript_dir":  "",
	}, "."), nil)

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		// Try to load from default locations
		defaultPaths := []string{"./logmapper.toml", "$HOME/.logmapper.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix LOGMAPPER_
	k.Load(env.Provider("LOGMAPPER_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "LOGMAPPER_")), "_", ".", 1)
	}), nil)

	// Unmarshal into Config struct
	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	// Check if file already exists
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# logmapper configuration

[api]
url = "http://localhost:8000"
timeout_minutes = 10

[session]
# path = "/home/you/.logmapper/session.json"

[export]
dir = "."

[log]
level = "info"
# transcript_dir = "./transcripts"
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.API.URL == "" {
		return fmt.Errorf("api url is required")
	}
	if config.Session.Path == "" {
		return fmt.Errorf("session path is required")
	}
	if config.API.TimeoutMinutes <= 0 {
		return fmt.Errorf("api timeout must be positive")
	}
	return nil
}

func defaultSessionPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".logmapper", "session.json")
	}
	return filepath.Join(home, ".logmapper", "session.json")
}
