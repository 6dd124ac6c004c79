// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schema holds the registry of structured-output schemas that
// agent results are validated against by code.
//
// Definitions are registered programmatically or loaded from a YAML file.
// When a file is watched, edits reload the registry in place, so schema
// changes do not require a service restart.
package schema

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Definition describes one output schema.
type Definition struct {
	// Code identifies the schema; executors reference it from agent
	// profiles.
	Code string `yaml:"code" json:"code"`

	// Required lists field paths that must be present.
	Required []string `yaml:"required,omitempty" json:"required,omitempty"`

	// Fields maps field paths to expected type tokens
	// (string, number, boolean, array, object).
	Fields map[string]string `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// Result is the outcome of one schema check.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Registry is the schema lookup used by node executors.
//
// Thread Safety: Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	defs   map[string]Definition
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{defs: make(map[string]Definition), logger: logger}
}

// Register adds or replaces a definition.
func (r *Registry) Register(def Definition) {
	if def.Code == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Code] = def
}

// Codes returns the registered schema codes.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for code := range r.defs {
		out = append(out, code)
	}
	return out
}

// ValidateByCode checks an output document against the named schema.
// An unregistered code is a failed check, not a pass: callers declared
// the code on purpose.
func (r *Registry) ValidateByCode(code string, output map[string]any) Result {
	r.mu.RLock()
	def, ok := r.defs[code]
	r.mu.RUnlock()
	if !ok {
		return Result{Valid: false, Errors: []string{fmt.Sprintf("schema %q is not registered", code)}}
	}

	var errs []string
	for _, path := range def.Required {
		if _, found := lookupPath(output, path); !found {
			errs = append(errs, fmt.Sprintf("required field %q is missing", path))
		}
	}
	for path, typeTok := range def.Fields {
		v, found := lookupPath(output, path)
		if !found {
			continue
		}
		if !typeMatches(v, typeTok) {
			errs = append(errs, fmt.Sprintf("field %q must be %s", path, typeTok))
		}
	}
	return Result{Valid: len(errs) == 0, Errors: errs}
}

func lookupPath(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func typeMatches(v any, typeTok string) bool {
	switch strings.ToLower(typeTok) {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}

// file format for LoadFile / Watch.
type schemaFile struct {
	Schemas []Definition `yaml:"schemas"`
}

// LoadFile replaces the registry contents with the definitions in a YAML
// file.
func (r *Registry) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema file: %w", err)
	}
	var f schemaFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse schema file %s: %w", path, err)
	}

	defs := make(map[string]Definition, len(f.Schemas))
	for _, def := range f.Schemas {
		if def.Code == "" {
			return fmt.Errorf("schema file %s contains a definition without a code", path)
		}
		defs[def.Code] = def
	}

	r.mu.Lock()
	r.defs = defs
	r.mu.Unlock()
	r.logger.Info("schema registry loaded", "path", path, "schemas", len(defs))
	return nil
}

// Watch reloads the registry whenever the file changes. It blocks until
// the context is cancelled, so run it on its own goroutine. A reload
// failure keeps the previous definitions.
func (r *Registry) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create schema watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := r.LoadFile(path); err != nil {
				r.logger.Error("schema registry reload failed, keeping previous definitions", "path", path, "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Error("schema watcher error", "error", err)
		}
	}
}
