// Package config provides the configuration record of a skrob run: its
// defaults, validation, the optional YAML configuration file and the XDG
// directories used for persisted data.
package config
