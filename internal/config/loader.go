package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	configDir  = ".config/chatrelay"
	configFile = "config.json"
)

// rawConfig is the JSON-unmarshaling intermediary. Durations are strings
// such as "250ms".
type rawConfig struct {
	Editor     EditorConfig     `json:"editor"`
	Watch      rawWatchConfig   `json:"watch"`
	Server     rawServerConfig  `json:"server"`
	Reply      rawReplyConfig   `json:"reply"`
	Lease      rawLeaseConfig   `json:"lease"`
	Controller ControllerConfig `json:"controller"`
	Features   FeaturesConfig   `json:"features"`
}

type rawWatchConfig struct {
	Debounce     string `json:"debounce"`
	Settle       string `json:"settle"`
	PollInterval string `json:"pollInterval"`
}

type rawServerConfig struct {
	Addr           string   `json:"addr"`
	AllowedOrigins []string `json:"allowedOrigins"`
}

type rawReplyConfig struct {
	MaxWait      string `json:"maxWait"`
	PollInterval string `json:"pollInterval"`
}

type rawLeaseConfig struct {
	Path      string `json:"path"`
	TTL       string `json:"ttl"`
	Heartbeat string `json:"heartbeat"`
}

// Load loads configuration from the default location.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom loads configuration from a specific path.
// If path is empty, uses ~/.config/chatrelay/config.json
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var raw rawConfig
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		mergeConfig(cfg, &raw)
	case os.IsNotExist(err) || path == "":
		// defaults
	default:
		return nil, err
	}

	cfg.Editor.UserDataDir = ExpandPath(cfg.Editor.UserDataDir)
	cfg.Editor.SessionDir = ExpandPath(cfg.Editor.SessionDir)
	cfg.Editor.Workspace = ExpandPath(cfg.Editor.Workspace)
	cfg.Lease.Path = ExpandPath(cfg.Lease.Path)
	if cfg.Editor.SessionDir != "" {
		if _, err := os.Stat(cfg.Editor.SessionDir); os.IsNotExist(err) {
			slog.Warn("session dir not found", "path", cfg.Editor.SessionDir)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDuration(dst *time.Duration, key, value string) {
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("invalid duration in config", "key", key, "value", value)
		return
	}
	*dst = d
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// mergeConfig merges raw config values into the config.
func mergeConfig(cfg *Config, raw *rawConfig) {
	// Editor
	setString(&cfg.Editor.Product, raw.Editor.Product)
	setString(&cfg.Editor.UserDataDir, raw.Editor.UserDataDir)
	setString(&cfg.Editor.SessionDir, raw.Editor.SessionDir)
	setString(&cfg.Editor.Workspace, raw.Editor.Workspace)

	// Watch
	setDuration(&cfg.Watch.Debounce, "watch.debounce", raw.Watch.Debounce)
	setDuration(&cfg.Watch.Settle, "watch.settle", raw.Watch.Settle)
	setDuration(&cfg.Watch.PollInterval, "watch.pollInterval", raw.Watch.PollInterval)

	// Server
	setString(&cfg.Server.Addr, raw.Server.Addr)
	if len(raw.Server.AllowedOrigins) > 0 {
		cfg.Server.AllowedOrigins = append([]string(nil), raw.Server.AllowedOrigins...)
	}

	// Reply
	setDuration(&cfg.Reply.MaxWait, "reply.maxWait", raw.Reply.MaxWait)
	setDuration(&cfg.Reply.PollInterval, "reply.pollInterval", raw.Reply.PollInterval)

	// Lease
	setString(&cfg.Lease.Path, raw.Lease.Path)
	setDuration(&cfg.Lease.TTL, "lease.ttl", raw.Lease.TTL)
	setDuration(&cfg.Lease.Heartbeat, "lease.heartbeat", raw.Lease.Heartbeat)

	// Controller
	if len(raw.Controller.Submit) > 0 {
		cfg.Controller.Submit = raw.Controller.Submit
	}
	if len(raw.Controller.Approve) > 0 {
		cfg.Controller.Approve = raw.Controller.Approve
	}
	if len(raw.Controller.Skip) > 0 {
		cfg.Controller.Skip = raw.Controller.Skip
	}

	// Features
	for k, v := range raw.Features.Flags {
		cfg.Features.Flags[k] = v
	}
}

// ExpandPath expands ~ to home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}

// ConfigPath returns the path to the config file.
func ConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, configDir, configFile)
}
