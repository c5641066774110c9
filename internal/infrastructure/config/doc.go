// Package config handles loading and validating the gateway configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with WTM_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The platform access token and JWT secret should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if errors.Is(err, config.ErrInvalidConfig) {
//	    // missing platform host or access token: fatal at startup
//	}
package config
