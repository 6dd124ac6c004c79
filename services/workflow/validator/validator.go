// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validator statically checks a graph snapshot before it may be
// saved or published.
//
// Description:
//
//	Validate is a pure function over the snapshot: it holds no state, reads
//	no external systems, and produces the same issue list for the same
//	input. Checks are grouped into passes (structural, mode, data flow,
//	reference integrity, publish gates); every pass appends typed issues to
//	one Result and no pass aborts early, so a caller sees all findings in a
//	single round trip.
//
// Thread Safety:
//
//	Validate is safe to call concurrently on independent graphs.
package validator

import (
	"github.com/AleutianAI/AleutianFlow/services/workflow/dsl"
)

// Validate checks the snapshot at the given stage.
//
// StageSave runs structural, mode, data-flow, and reference checks.
// StagePublish runs everything StageSave runs plus the publish-only gates
// (risk gate presence, runtime-policy resolution, ownership, evidence
// categories, experiment configuration).
//
// The returned Result is valid iff no issue has SeverityError.
func Validate(g *dsl.Graph, stage Stage) Result {
	var res Result

	checkTopLevel(g, &res)
	checkIdentity(g, &res)
	checkEdges(g, &res)
	checkOrphans(g, &res)
	checkMode(g, &res)
	checkDataFlow(g, &res)
	checkReferences(g, &res)

	if stage == StagePublish {
		checkPublishGates(g, &res)
	}

	res.Valid = true
	for _, iss := range res.Issues {
		if iss.Severity == SeverityError {
			res.Valid = false
			break
		}
	}
	return res
}

func checkTopLevel(g *dsl.Graph, res *Result) {
	if g.WorkflowID == "" {
		res.errorf(CodeMissingFields, "", "", "workflowId is required")
	}
	if g.Name == "" {
		res.errorf(CodeMissingFields, "", "", "name is required")
	}
	switch g.Mode {
	case dsl.ModeLinear, dsl.ModeDAG, dsl.ModeDebate:
	case "":
		res.errorf(CodeMissingFields, "", "", "mode is required")
	default:
		res.errorf(CodeMissingFields, "", "", "unknown mode %q", g.Mode)
	}
}
