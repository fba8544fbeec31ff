// Package config loads and saves the relay's JSON configuration.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Editor     EditorConfig     `json:"editor"`
	Watch      WatchConfig      `json:"watch"`
	Server     ServerConfig     `json:"server"`
	Reply      ReplyConfig      `json:"reply"`
	Lease      LeaseConfig      `json:"lease"`
	Controller ControllerConfig `json:"controller"`
	Features   FeaturesConfig   `json:"features"`
}

// EditorConfig says where the editor keeps chat sessions.
type EditorConfig struct {
	Product     string `json:"product"`     // "Code", "Code - Insiders", "VSCodium", "Cursor"
	UserDataDir string `json:"userDataDir"` // overrides the platform default
	SessionDir  string `json:"sessionDir"`  // skips workspace discovery
	Workspace   string `json:"workspace"`   // workspace root, "." default
}

// WatchConfig tunes the change detector.
type WatchConfig struct {
	Debounce     time.Duration `json:"debounce"`
	Settle       time.Duration `json:"settle"`
	PollInterval time.Duration `json:"pollInterval"`
}

// ServerConfig configures the HTTP and WebSocket transport.
type ServerConfig struct {
	Addr           string   `json:"addr"`
	AllowedOrigins []string `json:"allowedOrigins"`
}

// ReplyConfig holds reply-wait defaults.
type ReplyConfig struct {
	MaxWait      time.Duration `json:"maxWait"`
	PollInterval time.Duration `json:"pollInterval"`
}

// LeaseConfig configures leader election between relay instances.
type LeaseConfig struct {
	Path      string        `json:"path"`
	TTL       time.Duration `json:"ttl"`
	Heartbeat time.Duration `json:"heartbeat"`
}

// ControllerConfig holds argv templates run to drive the editor. The
// token {{text}} is replaced with the message text.
type ControllerConfig struct {
	Submit  []string `json:"submit"`
	Approve []string `json:"approve"`
	Skip    []string `json:"skip"`
}

// FeaturesConfig holds feature flag settings.
type FeaturesConfig struct {
	Flags map[string]bool `json:"flags"`
}

const (
	defaultDebounce     = 500 * time.Millisecond
	defaultSettle       = 150 * time.Millisecond
	defaultPollInterval = 5 * time.Second
	defaultAddr         = "127.0.0.1:3799"
	defaultMaxWait      = 120 * time.Second
	defaultReplyPoll    = time.Second
	defaultLeaseTTL     = 10 * time.Second
	defaultHeartbeat    = 3 * time.Second

	minDebounce = 100 * time.Millisecond
	maxDebounce = 3 * time.Second
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Editor: EditorConfig{
			Product:   "Code",
			Workspace: ".",
		},
		Watch: WatchConfig{
			Debounce:     defaultDebounce,
			Settle:       defaultSettle,
			PollInterval: defaultPollInterval,
		},
		Server: ServerConfig{
			Addr: defaultAddr,
		},
		Reply: ReplyConfig{
			MaxWait:      defaultMaxWait,
			PollInterval: defaultReplyPoll,
		},
		Lease: LeaseConfig{
			Path:      "~/" + configDir + "/leader.lock",
			TTL:       defaultLeaseTTL,
			Heartbeat: defaultHeartbeat,
		},
		Features: FeaturesConfig{
			Flags: make(map[string]bool),
		},
	}
}

// Validate fixes out-of-range values and reports settings that cannot be
// repaired.
func (c *Config) Validate() error {
	if c.Editor.Product == "" {
		c.Editor.Product = "Code"
	}
	if c.Editor.Workspace == "" {
		c.Editor.Workspace = "."
	}
	switch {
	case c.Watch.Debounce <= 0:
		c.Watch.Debounce = defaultDebounce
	case c.Watch.Debounce < minDebounce:
		c.Watch.Debounce = minDebounce
	case c.Watch.Debounce > maxDebounce:
		c.Watch.Debounce = maxDebounce
	}
	if c.Watch.Settle < 0 {
		c.Watch.Settle = defaultSettle
	}
	if c.Watch.PollInterval < 0 {
		c.Watch.PollInterval = defaultPollInterval
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaultAddr
	}
	if c.Reply.MaxWait <= 0 {
		c.Reply.MaxWait = defaultMaxWait
	}
	if c.Reply.PollInterval <= 0 {
		c.Reply.PollInterval = defaultReplyPoll
	}
	if c.Lease.TTL <= 0 {
		c.Lease.TTL = defaultLeaseTTL
	}
	if c.Lease.Heartbeat <= 0 || c.Lease.Heartbeat >= c.Lease.TTL {
		c.Lease.Heartbeat = c.Lease.TTL / 3
	}
	if c.Features.Flags == nil {
		c.Features.Flags = make(map[string]bool)
	}
	for name, argv := range map[string][]string{
		"submit":  c.Controller.Submit,
		"approve": c.Controller.Approve,
		"skip":    c.Controller.Skip,
	} {
		if len(argv) > 0 && argv[0] == "" {
			return fmt.Errorf("controller.%s: empty program name", name)
		}
	}
	return nil
}
