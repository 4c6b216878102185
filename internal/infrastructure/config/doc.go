// Package config handles loading and validating PDM Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with PDM_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// The channel layout (channels, operator slots, output protection) lives in
// its own file, named by layout.path, and is loaded by package layout.
//
// Sensitive values (MQTT password, InfluxDB token, JWT secret) should be set
// via environment variables.
//
// Usage:
//
//	cfg, err := config.Load("configs/pdmcore.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Timing.HardwarePeriod)
package config
