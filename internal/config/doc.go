// Package config loads, normalizes, and validates scribe's TOML
// configuration. The zero configuration file is usable: every field has a
// default, and secrets may come from environment variables instead.
package config
