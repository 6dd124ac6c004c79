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

import (
	"math"
	"strings"

	"github.com/AleutianAI/AleutianFlow/services/workflow/dsl"
)

// trafficSumTolerance absorbs float drift when variant shares are summed.
const trafficSumTolerance = 1e-6

// Evidence node categories. A risk-gated graph must carry at least one
// node from each category before it may publish.
var (
	ruleEvidenceTypes = map[string]bool{
		"rule-pack-eval": true,
		"rule-eval":      true,
		"alert-check":    true,
	}
	modelEvidenceTypes = map[string]bool{
		"single-agent": true,
		"agent-call":   true,
		"agent-group":  true,
		"judge-agent":  true,
		"debate-round": true,
	}
)

func isDataEvidence(nodeType string) bool {
	return nodeType == "data-fetch" || strings.HasSuffix(nodeType, "-fetch")
}

// checkPublishGates runs the PUBLISH-only checks.
func checkPublishGates(g *dsl.Graph, res *Result) {
	if g.OwnerUserID == "" {
		res.errorf(CodePolicyUnresolved, "", "", "ownerUserId must be set before publish")
	}

	if countNodesOfType(g, "risk-gate") == 0 {
		res.errorf(CodeRiskGateMissing, "", "", "publish requires at least one risk-gate node")
	} else {
		checkEvidence(g, res)
	}

	checkRuntimePolicies(g, res)
	checkExperimentConfig(g.Experiment, res)
}

func checkEvidence(g *dsl.Graph, res *Result) {
	var hasData, hasRule, hasModel bool
	for i := range g.Nodes {
		t := g.Nodes[i].Type
		if isDataEvidence(t) {
			hasData = true
		}
		if ruleEvidenceTypes[t] {
			hasRule = true
		}
		if modelEvidenceTypes[t] {
			hasModel = true
		}
	}
	if !hasData {
		res.errorf(CodeEvidenceMissing, "", "", "risk-gated graph requires a data-evidence node (data-fetch or *-fetch)")
	}
	if !hasRule {
		res.errorf(CodeEvidenceMissing, "", "", "risk-gated graph requires a rule-evidence node (rule-pack-eval, rule-eval, or alert-check)")
	}
	if !hasModel {
		res.errorf(CodeEvidenceMissing, "", "", "risk-gated graph requires a model-evidence node (single-agent, agent-call, agent-group, judge-agent, or debate-round)")
	}
}

// checkRuntimePolicies requires every enabled, non-trigger node to resolve
// all four runtime-policy fields through the layered lookup:
// node.runtimePolicy, then node.config, then runPolicy.nodeDefaults.
func checkRuntimePolicies(g *dsl.Graph, res *Result) {
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if !n.Enabled || dsl.IsTrigger(n.Type) {
			continue
		}
		missing := unresolvedPolicyFields(n, g.RunPolicy.NodeDefaults)
		if len(missing) > 0 {
			res.errorf(CodePolicyUnresolved, n.ID, "",
				"node %q does not resolve runtime-policy fields: %s", n.ID, strings.Join(missing, ", "))
		}
	}
}

// EffectivePolicy resolves the per-field runtime policy for a node. Fields
// that resolve nowhere stay nil; publish validation rejects those.
func EffectivePolicy(n *dsl.Node, defaults dsl.NodePolicy) dsl.NodePolicy {
	var p dsl.NodePolicy
	rp := n.RuntimePolicy
	if rp == nil {
		rp = &dsl.NodePolicy{}
	}

	p.TimeoutMs = rp.TimeoutMs
	if p.TimeoutMs == nil {
		if v, ok := intConfig(n.Config, "timeoutMs"); ok {
			p.TimeoutMs = &v
		}
	}
	if p.TimeoutMs == nil {
		p.TimeoutMs = defaults.TimeoutMs
	}

	p.RetryCount = rp.RetryCount
	if p.RetryCount == nil {
		if v, ok := intConfig(n.Config, "retryCount"); ok {
			p.RetryCount = &v
		}
	}
	if p.RetryCount == nil {
		p.RetryCount = defaults.RetryCount
	}

	p.RetryBackoffMs = rp.RetryBackoffMs
	if p.RetryBackoffMs == nil {
		if v, ok := intConfig(n.Config, "retryBackoffMs"); ok {
			p.RetryBackoffMs = &v
		}
	}
	if p.RetryBackoffMs == nil {
		p.RetryBackoffMs = defaults.RetryBackoffMs
	}

	p.OnError = rp.OnError
	if p.OnError == nil {
		if v, ok := n.Config["onError"].(string); ok && v != "" {
			p.OnError = &v
		}
	}
	if p.OnError == nil {
		p.OnError = defaults.OnError
	}

	return p
}

func unresolvedPolicyFields(n *dsl.Node, defaults dsl.NodePolicy) []string {
	p := EffectivePolicy(n, defaults)
	var missing []string
	if p.TimeoutMs == nil {
		missing = append(missing, "timeoutMs")
	}
	if p.RetryCount == nil {
		missing = append(missing, "retryCount")
	}
	if p.RetryBackoffMs == nil {
		missing = append(missing, "retryBackoffMs")
	}
	if p.OnError == nil {
		missing = append(missing, "onError")
	}
	return missing
}

var splitPolicies = map[string]bool{
	"RANDOM":    true,
	"HASH":      true,
	"USER_HASH": true,
}

func checkExperimentConfig(cfg *dsl.ExperimentConfig, res *Result) {
	if cfg == nil || !cfg.Enabled {
		return
	}
	if strings.TrimSpace(cfg.ExperimentCode) == "" {
		res.errorf(CodeExperimentConfig, "", "", "experimentCode is required when the experiment is enabled")
	}
	if len(cfg.Variants) < 2 {
		res.errorf(CodeExperimentConfig, "", "", "experiment requires at least two variants, has %d", len(cfg.Variants))
	}
	sum := 0.0
	for i, v := range cfg.Variants {
		if strings.TrimSpace(v.Version) == "" {
			res.errorf(CodeExperimentConfig, "", "", "experiment variant %d has no version", i)
		}
		if !(v.Traffic > 0) || math.IsInf(v.Traffic, 0) || math.IsNaN(v.Traffic) {
			res.errorf(CodeExperimentConfig, "", "", "experiment variant %d requires traffic > 0", i)
		}
		sum += v.Traffic
	}
	if len(cfg.Variants) >= 2 &&
		math.Abs(sum-1) > trafficSumTolerance && math.Abs(sum-100) > trafficSumTolerance {
		res.errorf(CodeExperimentConfig, "", "", "variant traffic must sum to 1 or 100, sums to %g", sum)
	}
	if cfg.SplitPolicy != "" && !splitPolicies[cfg.SplitPolicy] {
		res.errorf(CodeExperimentConfig, "", "", "unknown splitPolicy %q", cfg.SplitPolicy)
	}
	if cfg.AutoStop != nil && cfg.AutoStop.Enabled {
		t := cfg.AutoStop.BadCaseThreshold
		if t == nil || math.IsNaN(*t) || *t < 0 || *t > 1 {
			res.errorf(CodeExperimentConfig, "", "", "autoStop.badCaseThreshold must be a number in [0,1]")
		}
	}
}
