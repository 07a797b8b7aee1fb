// Package config loads the server configuration from config.json and applies
// environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rhyline/rhyline-server/internal/v1/logging"
	"go.uber.org/zap"
)

// Config holds the validated server configuration.
type Config struct {
	GamePort    int  `json:"gamePort"`
	HTTPPort    int  `json:"httpPort"`
	HTTPService bool `json:"httpService"`

	ServerName     string `json:"serverName"`
	WelcomeMessage string `json:"welcomeMessage"`
	// WelcomeSkipUserID suppresses the welcome chat for one privileged user.
	WelcomeSkipUserID int32 `json:"welcomeSkipUserId"`

	AdminToken    string `json:"adminToken"`
	ViewToken     string `json:"viewToken"`
	AdminDataPath string `json:"adminDataPath"`

	// APIBaseURL is the external identity/chart/record service.
	APIBaseURL string `json:"apiBaseUrl"`

	// DataDir is the root for replay files (record/ subtree).
	DataDir string `json:"dataDir"`

	// ReplaySecret signs replay download session tokens. When empty a random
	// per-boot secret is used, invalidating sessions across restarts.
	ReplaySecret string `json:"replaySecret"`

	DevelopmentMode bool   `json:"developmentMode"`
	AllowedOrigins  string `json:"allowedOrigins"`

	// Rate limits in ulule/limiter formatted notation (M = minute, H = hour).
	RateLimitPublic string `json:"rateLimitPublic"`
	RateLimitAdmin  string `json:"rateLimitAdmin"`

	// OtelCollectorAddr enables OTLP tracing when set (host:port).
	OtelCollectorAddr string `json:"otelCollectorAddr"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		GamePort:        12346,
		HTTPPort:        12347,
		HTTPService:     true,
		ServerName:      "rhyline",
		WelcomeMessage:  "",
		AdminDataPath:   "admin_data.json",
		APIBaseURL:      "https://api.phira.cn",
		DataDir:         ".",
		RateLimitPublic: "300-M",
		RateLimitAdmin:  "120-M",
	}
}

// Load reads config.json (if present), applies environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = "config.json"
	}
	if raw, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(cfg)

	var errs []string
	if cfg.GamePort < 1 || cfg.GamePort > 65535 {
		errs = append(errs, fmt.Sprintf("gamePort must be between 1 and 65535 (got %d)", cfg.GamePort))
	}
	if cfg.HTTPService && (cfg.HTTPPort < 1 || cfg.HTTPPort > 65535) {
		errs = append(errs, fmt.Sprintf("httpPort must be between 1 and 65535 (got %d)", cfg.HTTPPort))
	}
	if cfg.APIBaseURL == "" {
		errs = append(errs, "apiBaseUrl is required")
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logLoaded(cfg)
	return cfg, nil
}

// applyEnv applies the documented environment overrides.
func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("HTTP_SERVICE"); ok {
		cfg.HTTPService = v == "true" || v == "1"
	}
	if v, ok := os.LookupEnv("HTTP_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.HTTPPort = port
		}
	}
	if v, ok := os.LookupEnv("ADMIN_TOKEN"); ok {
		cfg.AdminToken = v
	}
	if v, ok := os.LookupEnv("ADMIN_DATA_PATH"); ok {
		cfg.AdminDataPath = v
	}
	if home, ok := os.LookupEnv("PHIRA_MP_HOME"); ok {
		cfg.DataDir = home
		if os.Getenv("ADMIN_DATA_PATH") == "" {
			cfg.AdminDataPath = filepath.Join(home, "admin_data.json")
		}
	}
}

// RecordDir is the root directory for replay files.
func (c *Config) RecordDir() string {
	return filepath.Join(c.DataDir, "record")
}

func logLoaded(cfg *Config) {
	logging.Info(nil, "configuration loaded",
		zap.Int("game_port", cfg.GamePort),
		zap.Int("http_port", cfg.HTTPPort),
		zap.Bool("http_service", cfg.HTTPService),
		zap.String("server_name", cfg.ServerName),
		zap.String("api_base_url", cfg.APIBaseURL),
		zap.String("admin_data_path", cfg.AdminDataPath),
		zap.Bool("admin_token_set", cfg.AdminToken != ""),
		zap.Bool("view_token_set", cfg.ViewToken != ""),
		zap.Bool("development_mode", cfg.DevelopmentMode),
	)
}
