// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided identifiers that end
// up in storage keys, log streams, or template interpolation. Using these
// validators prevents injection through crafted codes (key-separator
// smuggling, path traversal).
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// paramCodePattern matches parameter codes like "stop_loss" or "maxDrawdown".
// Codes start with a letter and stay within 64 characters.
var paramCodePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,63}$`)

// scopeValuePattern matches scope dimension values: commodity symbols
// (CORN, BRK.A), regions (US-MIDWEST), and session IDs (sess-1).
// No separators that collide with storage key layout.
var scopeValuePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,63}$`)

// ValidateParamCode validates a parameter code before it is written into
// a set or referenced from an expression.
//
// Valid codes:
//   - 1-64 characters
//   - Letters, digits, underscores
//   - Must start with a letter
//
// Returns an error if the code is invalid.
//
// Example:
//
//	if err := validation.ValidateParamCode(code); err != nil {
//	    return fmt.Errorf("invalid paramCode: %w", err)
//	}
//	// Safe to use in storage keys and interpolation
func ValidateParamCode(code string) error {
	if code == "" {
		return fmt.Errorf("paramCode cannot be empty")
	}

	if !paramCodePattern.MatchString(code) {
		return fmt.Errorf("invalid paramCode format: %q (must be 1-64 chars, letters/digits/underscores, starting with a letter)", code)
	}

	return nil
}

// ValidateScopeValue validates a scope dimension value (commodity,
// region, route, strategy, or session ID).
func ValidateScopeValue(value string) error {
	if value == "" {
		return fmt.Errorf("scopeValue cannot be empty")
	}

	if !scopeValuePattern.MatchString(value) {
		return fmt.Errorf("invalid scopeValue format: %q (must be 1-64 alphanumeric chars, dots, underscores, or hyphens)", value)
	}

	return nil
}

// SanitizeScopeValue normalizes and validates a commodity-style dimension
// value. Returns the uppercase value if valid, or an error if invalid.
//
// Use this for request-context dimensions where casing varies:
//
//	commodity, err := validation.SanitizeScopeValue(userInput)
//	if err != nil {
//	    return err
//	}
//	// commodity is uppercase and validated
func SanitizeScopeValue(value string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	if err := ValidateScopeValue(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
