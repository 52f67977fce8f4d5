// Package config loads, validates, and normalizes caster's TOML
// configuration.
//
// Configuration lives at ~/.config/caster/config.toml by default. Load
// applies defaults first, then overlays the file when present, then
// normalizes paths (tilde expansion) and validates cross-field constraints.
package config
