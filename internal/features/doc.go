// Package features provides feature flags for optional relay behavior,
// with priority resolution from CLI overrides, config file values, and
// compiled-in defaults.
package features
