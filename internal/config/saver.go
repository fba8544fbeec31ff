package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// saveConfig is the JSON-marshaling intermediary that uses string durations.
type saveConfig struct {
	Editor     EditorConfig     `json:"editor"`
	Watch      rawWatchConfig   `json:"watch"`
	Server     saveServerConfig `json:"server"`
	Reply      rawReplyConfig   `json:"reply"`
	Lease      rawLeaseConfig   `json:"lease"`
	Controller saveController   `json:"controller,omitempty"`
	Features   FeaturesConfig   `json:"features,omitempty"`
}

type saveServerConfig struct {
	Addr           string   `json:"addr"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
}

type saveController struct {
	Submit  []string `json:"submit,omitempty"`
	Approve []string `json:"approve,omitempty"`
	Skip    []string `json:"skip,omitempty"`
}

// toSaveConfig converts Config to the JSON-serializable format.
func toSaveConfig(cfg *Config) saveConfig {
	return saveConfig{
		Editor: cfg.Editor,
		Watch: rawWatchConfig{
			Debounce:     cfg.Watch.Debounce.String(),
			Settle:       cfg.Watch.Settle.String(),
			PollInterval: cfg.Watch.PollInterval.String(),
		},
		Server: saveServerConfig{
			Addr:           cfg.Server.Addr,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		},
		Reply: rawReplyConfig{
			MaxWait:      cfg.Reply.MaxWait.String(),
			PollInterval: cfg.Reply.PollInterval.String(),
		},
		Lease: rawLeaseConfig{
			Path:      cfg.Lease.Path,
			TTL:       cfg.Lease.TTL.String(),
			Heartbeat: cfg.Lease.Heartbeat.String(),
		},
		Controller: saveController(cfg.Controller),
		Features:   cfg.Features,
	}
}

// Marshal renders cfg in the on-disk format.
func Marshal(cfg *Config) ([]byte, error) {
	return json.MarshalIndent(toSaveConfig(cfg), "", "  ")
}

// Save writes the config to ~/.config/chatrelay/config.json
func Save(cfg *Config) error {
	return SaveTo(ConfigPath(), cfg)
}

// SaveTo writes the config to path, creating its directory.
func SaveTo(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
