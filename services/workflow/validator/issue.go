// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validator

import "fmt"

// Severity classifies a validation issue. Only ErrorSeverity blocks a
// save or publish; lower severities are advisory.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

// Stage selects which enforcement gates run. SAVE checks always run;
// PUBLISH runs the SAVE checks plus the publish-only gates.
type Stage string

const (
	StageSave    Stage = "SAVE"
	StagePublish Stage = "PUBLISH"
)

// Issue codes are stable identifiers consumed by callers to render
// user-facing messages. Do not renumber.
const (
	// Structural.
	CodeMissingFields  = "WF001" // required top-level fields absent or invalid
	CodeDuplicateID    = "WF002" // duplicate node or edge id
	CodeDanglingEdge   = "WF003" // edge endpoint references a missing node
	CodeOrphanNode     = "WF004" // non-trigger node with no edges
	CodeLinearBranch   = "WF005" // LINEAR node with in/out degree > 1
	CodeBadCondition   = "WF006" // condition-edge condition has invalid shape

	// Mode gates.
	CodeDebateRoles     = "WF101" // DEBATE missing a required role node
	CodeDAGNeedsJoin    = "WF102" // DAG without any join node
	CodeApprovalTarget  = "WF103" // approval edge targets a non-output node
	CodeRiskGateMissing = "WF104" // publish requires a risk-gate node
	CodeQuorumBranches  = "WF105" // QUORUM join without quorumBranches >= 2
	CodeMergeInDegree   = "WF106" // decision-merge with in-degree < 2

	// Data flow and reference integrity.
	CodeBoundTypeMismatch = "WF201" // bound source/target field types incompatible
	CodeNamedTypeMismatch = "WF202" // name-matched field types incompatible
	CodeRefUnknownNode    = "WF203" // expression scope is not a declared node id
	CodeRefUnresolved     = "WF204" // expression path not declared by source node
	CodeParamsUnbound     = "WF205" // params reference without a param-set binding

	// Publish-only gates.
	CodePolicyUnresolved = "WF304" // runtime policy or ownership unresolved
	CodeEvidenceMissing  = "WF305" // risk-gated graph missing an evidence category
	CodeExperimentConfig = "WF306" // experiment configuration invalid
)

// Issue is one validation finding.
type Issue struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	NodeID   string   `json:"nodeId,omitempty"`
	EdgeID   string   `json:"edgeId,omitempty"`
}

// Result is the outcome of one validation pass.
type Result struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues"`
}

// errorf appends an ERROR issue.
func (r *Result) errorf(code, nodeID, edgeID, format string, args ...any) {
	r.add(Issue{Code: code, Severity: SeverityError, NodeID: nodeID, EdgeID: edgeID, Message: fmt.Sprintf(format, args...)})
}

// warnf appends a WARNING issue.
func (r *Result) warnf(code, nodeID, edgeID, format string, args ...any) {
	r.add(Issue{Code: code, Severity: SeverityWarning, NodeID: nodeID, EdgeID: edgeID, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) add(iss Issue) {
	r.Issues = append(r.Issues, iss)
}

// HasCode reports whether any issue carries the given code.
func (r *Result) HasCode(code string) bool {
	for _, iss := range r.Issues {
		if iss.Code == code {
			return true
		}
	}
	return false
}
