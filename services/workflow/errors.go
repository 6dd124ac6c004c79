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

import "errors"

// Sentinel errors for the service layer. Handlers map these to HTTP
// status codes with errors.Is.
var (
	// ErrWorkflowNotFound indicates no draft exists for the workflow id.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrValidationFailed indicates the graph carries blocking issues at
	// the requested stage.
	ErrValidationFailed = errors.New("graph validation failed")

	// ErrVersionRequired indicates a publish was attempted on a graph
	// with no version set.
	ErrVersionRequired = errors.New("graph version is required to publish")
)
