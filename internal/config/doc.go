// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation,
// so secrets like database passwords and the platform refresh token stay out of
// committed files. See configs/liveboard.example.yaml for the full schema.
package config
