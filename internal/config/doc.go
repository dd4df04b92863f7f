// Package config loads and validates master and worker configuration from
// built-in defaults, a config file, CHERRY_* environment variables and
// command-line overrides, in that order of precedence.
package config
