// Package config loads runtime configuration from the environment with
// validated defaults for queue retry, lease, and sweep parameters.
package config
