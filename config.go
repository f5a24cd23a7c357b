package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration. Precedence: defaults, then an
// optional YAML file, then environment variables.
type Config struct {
	Addr           string   `yaml:"addr"`            // HTTP listen address
	AllowedOrigins []string `yaml:"allowed_origins"` // CORS / websocket origin allowlist
	Production     bool     `yaml:"production"`      // JSON logs, no dev console output
	DBPath         string   `yaml:"db_path"`         // SQLite file, "" disables persistence
	ClientDir      string   `yaml:"client_dir"`      // static browser client, "" disables
	PublicURL      string   `yaml:"public_url"`      // externally reachable URL, used by /qr
	MapFile        string   `yaml:"map_file"`        // custom arena layout, "" = built-in
}

// DefaultConfig returns the development defaults
func DefaultConfig() Config {
	return Config{
		Addr:           ":5462",
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		DBPath:         "arena.db",
		PublicURL:      "http://localhost:5462",
	}
}

// LoadConfig builds the config from defaults, an optional YAML file, and
// environment overrides
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if port := getEnvInt("PORT", 0); port > 0 {
		c.Addr = ":" + strconv.Itoa(port)
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitAndTrim(v)
	}
	if os.Getenv("NODE_ENV") == "production" || os.Getenv("ENV") == "production" {
		c.Production = true
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("CLIENT_DIR"); v != "" {
		c.ClientDir = v
	}
	if v := os.Getenv("PUBLIC_URL"); v != "" {
		c.PublicURL = v
	}
	if v := os.Getenv("MAP_FILE"); v != "" {
		c.MapFile = v
	}
}

// Grid loads the configured arena layout, falling back to the built-in map
func (c *Config) Grid() (*Grid, error) {
	if c.MapFile == "" {
		return DefaultGrid(), nil
	}
	return LoadGridFile(c.MapFile)
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
