// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianFlow/services/workflow/modelcfg"
)

// Config is the service configuration, loaded from YAML with
// environment-variable overrides layered on top.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string `yaml:"listenAddr"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel"`

	// StrictAgentAuth makes credential failures on model calls fail the
	// node instead of degrading to a skipped success.
	StrictAgentAuth bool `yaml:"strictAgentAuth"`

	// ModelConfigPath is a YAML file of model configurations served
	// through the TTL cache.
	ModelConfigPath string `yaml:"modelConfigPath"`

	// ModelConfigTTLSeconds bounds model-config staleness. 0 uses the
	// cache default.
	ModelConfigTTLSeconds int `yaml:"modelConfigTtlSeconds"`

	// SchemaPath is a YAML file of output-schema definitions, watched
	// for edits.
	SchemaPath string `yaml:"schemaPath"`

	// BadgerPath is the directory for the run/audit log. Empty keeps the
	// log in memory.
	BadgerPath string `yaml:"badgerPath"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		ListenAddr: ":8086",
		LogLevel:   "info",
	}
}

// LoadConfig reads the YAML file (optional) and applies environment
// overrides. An empty path skips the file and starts from defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides lets the container environment win over the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLOW_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("FLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLOW_STRICT_AGENT_AUTH"); v != "" {
		cfg.StrictAgentAuth = envBool(v)
	}
	if v := os.Getenv("FLOW_MODEL_CONFIG_PATH"); v != "" {
		cfg.ModelConfigPath = v
	}
	if v := os.Getenv("FLOW_SCHEMA_PATH"); v != "" {
		cfg.SchemaPath = v
	}
	if v := os.Getenv("FLOW_BADGER_PATH"); v != "" {
		cfg.BadgerPath = v
	}
	if v := os.Getenv("FLOW_MODEL_CONFIG_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ModelConfigTTLSeconds = n
		}
	}
}

func envBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// ModelConfigTTL returns the configured TTL as a duration.
func (c Config) ModelConfigTTL() time.Duration {
	return time.Duration(c.ModelConfigTTLSeconds) * time.Second
}

// modelConfigFile is the on-disk shape of ModelConfigPath.
type modelConfigFile struct {
	Models []modelcfg.ModelConfig `yaml:"models"`
}

// ModelConfigLoader returns a loader that re-reads the YAML file on
// every cache refresh. Codes must be unique; duplicates are rejected so
// a bad edit cannot silently shadow a configuration.
func ModelConfigLoader(path string) modelcfg.LoadFunc {
	return func(ctx context.Context) (map[string]modelcfg.ModelConfig, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read model configs %s: %w", path, err)
		}
		var file modelConfigFile
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("parse model configs %s: %w", path, err)
		}
		out := make(map[string]modelcfg.ModelConfig, len(file.Models))
		for _, m := range file.Models {
			if m.Code == "" {
				return nil, fmt.Errorf("model config in %s has no code", path)
			}
			if _, dup := out[m.Code]; dup {
				return nil, fmt.Errorf("duplicate model config code %q in %s", m.Code, path)
			}
			out[m.Code] = m
		}
		return out, nil
	}
}
