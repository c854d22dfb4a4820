// Package config handles configuration loading, parsing, and validation
// from a YAML file and NOTIFY_-prefixed environment variables. It provides
// type-safe access to the settings the scanner, dispatchers and adapters need
// while keeping configuration details separate from business logic.
package config
