// Package config loads flowkit configuration with precedence defaults →
// YAML file → environment variables (FLOWKIT_* by default), and parses
// declarative YAML flow definitions into flow specs.
package config
