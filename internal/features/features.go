package features

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/wilbur182/chatrelay/internal/config"
)

// ErrUnknownFeature is returned when a flag name is not registered.
var ErrUnknownFeature = errors.New("unknown feature")

// Feature represents a known feature flag with its default value.
type Feature struct {
	Name        string
	Default     bool
	Description string
}

// Known feature flags - add new features here.
var (
	// Timeline emits interleaved text/thinking/tool segments on assistant turns.
	Timeline = Feature{
		Name:        "timeline",
		Default:     true,
		Description: "Include ordered timeline segments on assistant messages",
	}

	// PollFallback runs the periodic fingerprint poll next to file events.
	PollFallback = Feature{
		Name:        "poll_fallback",
		Default:     true,
		Description: "Poll the inbox when file notifications are missed",
	}

	// TitleIndex reads session titles from the editor's state database.
	TitleIndex = Feature{
		Name:        "title_index",
		Default:     true,
		Description: "Read session titles from state.vscdb",
	}

	// LeaderLease elects one serving relay per lease file.
	LeaderLease = Feature{
		Name:        "leader_lease",
		Default:     true,
		Description: "Serve only while holding the leader lease",
	}
)

// allFeatures is the registry of all known features.
var allFeatures = []Feature{
	Timeline,
	PollFallback,
	TitleIndex,
	LeaderLease,
}

// defaultValues provides O(1) lookup for feature defaults.
var defaultValues = buildDefaultMap()

func buildDefaultMap() map[string]bool {
	m := make(map[string]bool, len(allFeatures))
	for _, f := range allFeatures {
		m[f.Name] = f.Default
	}
	return m
}

// IsKnownFeature returns true if the feature name is registered.
func IsKnownFeature(name string) bool {
	_, ok := defaultValues[name]
	return ok
}

// ListAll returns all known features with metadata.
// Returns a copy to prevent mutation of internal state.
func ListAll() []Feature {
	result := make([]Feature, len(allFeatures))
	copy(result, allFeatures)
	return result
}

// Manager handles feature flag state.
type Manager struct {
	mu        sync.RWMutex
	cfg       *config.Config
	overrides map[string]bool // CLI overrides take precedence
}

// New creates a manager reading config flags from cfg, which may be nil.
func New(cfg *config.Config) *Manager {
	return &Manager{
		cfg:       cfg,
		overrides: make(map[string]bool),
	}
}

// SetOverride sets a CLI override for a feature flag.
// Overrides take precedence over config values.
func (m *Manager) SetOverride(name string, enabled bool) error {
	if !IsKnownFeature(name) {
		return fmt.Errorf("%w: %s", ErrUnknownFeature, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[name] = enabled
	return nil
}

// ParseOverrides applies "name" or "name=false" style overrides, as given
// to the --feature flag.
func (m *Manager) ParseOverrides(overrides []string) error {
	for _, o := range overrides {
		name, value, hasValue := strings.Cut(o, "=")
		enabled := true
		if hasValue {
			switch strings.ToLower(value) {
			case "1", "true", "on", "yes":
			case "0", "false", "off", "no":
				enabled = false
			default:
				return fmt.Errorf("feature %s: invalid value %q", name, value)
			}
		}
		if err := m.SetOverride(strings.TrimSpace(name), enabled); err != nil {
			return err
		}
	}
	return nil
}

// IsEnabled checks if a feature is enabled.
// Priority: CLI override > config > default.
func (m *Manager) IsEnabled(f Feature) bool {
	if m == nil {
		return f.Default
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isEnabledLocked(f.Name)
}

// isEnabledLocked checks feature state without acquiring locks (caller must hold lock).
func (m *Manager) isEnabledLocked(name string) bool {
	if enabled, ok := m.overrides[name]; ok {
		return enabled
	}
	if m.cfg != nil && m.cfg.Features.Flags != nil {
		if enabled, ok := m.cfg.Features.Flags[name]; ok {
			return enabled
		}
	}
	return defaultValues[name]
}

// List returns all known features with their current enabled state.
func (m *Manager) List() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]bool, len(allFeatures))
	for _, f := range allFeatures {
		result[f.Name] = m.isEnabledLocked(f.Name)
	}
	return result
}

// Names returns the registered flag names in sorted order.
func Names() []string {
	names := make([]string, 0, len(allFeatures))
	for _, f := range allFeatures {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

// SetEnabled updates a feature flag in the config file at path and in
// memory. The file is reloaded first so changes made since startup are
// kept.
func (m *Manager) SetEnabled(path, name string, enabled bool) error {
	if !IsKnownFeature(name) {
		return fmt.Errorf("%w: %s", ErrUnknownFeature, name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, err := config.LoadFrom(path)
	if err != nil {
		return err
	}
	if cfg.Features.Flags == nil {
		cfg.Features.Flags = make(map[string]bool)
	}
	cfg.Features.Flags[name] = enabled

	if m.cfg != nil {
		if m.cfg.Features.Flags == nil {
			m.cfg.Features.Flags = make(map[string]bool)
		}
		m.cfg.Features.Flags[name] = enabled
	}

	if path == "" {
		return config.Save(cfg)
	}
	return config.SaveTo(path, cfg)
}
