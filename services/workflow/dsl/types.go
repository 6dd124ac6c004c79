// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dsl defines the declarative graph snapshot consumed and produced
// by the workflow service.
//
// A snapshot describes one version of a decision pipeline: its nodes, edges,
// run policy, parameter-set bindings, and optional experiment configuration.
// Snapshots arrive as JSON documents from the graph editor and are validated
// by the validator package before they may be saved or published.
//
// Thread Safety:
//
//	Snapshot values are treated as immutable once decoded. Nothing in this
//	package mutates a Graph after construction.
package dsl

// GraphMode is the execution shape of a pipeline.
type GraphMode string

const (
	// ModeLinear is a strictly linear chain: no node may branch.
	ModeLinear GraphMode = "LINEAR"

	// ModeDAG is a general directed acyclic graph with fan-out/fan-in.
	ModeDAG GraphMode = "DAG"

	// ModeDebate is a structured multi-agent debate.
	ModeDebate GraphMode = "DEBATE"
)

// Edge types understood by the engine.
const (
	EdgeTypeData      = "data-edge"
	EdgeTypeControl   = "control-edge"
	EdgeTypeCondition = "condition-edge"
	EdgeTypeError     = "error-edge"
)

// Join policies for fan-in nodes.
const (
	JoinPolicyAll    = "ALL"
	JoinPolicyAny    = "ANY"
	JoinPolicyQuorum = "QUORUM"
)

// Graph is one immutable workflow snapshot.
//
// Description:
//
//	Graph is the unit of validation, save, and publish. WorkflowID plus
//	Version identify a snapshot; Status tracks its lifecycle (draft,
//	published, archived) but lifecycle transitions live in the store, not
//	here.
type Graph struct {
	WorkflowID       string             `json:"workflowId"`
	Name             string             `json:"name"`
	Mode             GraphMode          `json:"mode"`
	UsageMethod      string             `json:"usageMethod,omitempty"`
	Version          string             `json:"version"`
	Status           string             `json:"status,omitempty"`
	OwnerUserID      string             `json:"ownerUserId,omitempty"`
	TemplateSource   string             `json:"templateSource,omitempty"`
	RunPolicy        RunPolicy          `json:"runPolicy"`
	ParamSetBindings []string           `json:"paramSetBindings,omitempty"`
	AgentBindings    []string           `json:"agentBindings,omitempty"`
	Nodes            []Node             `json:"nodes"`
	Edges            []Edge             `json:"edges"`
	Experiment       *ExperimentConfig  `json:"experimentConfig,omitempty"`
}

// RunPolicy carries graph-wide execution defaults.
type RunPolicy struct {
	NodeDefaults NodePolicy `json:"nodeDefaults"`
}

// NodePolicy is the per-node runtime policy. Pointer fields distinguish
// "not set" from zero values so layered resolution works per field.
type NodePolicy struct {
	TimeoutMs      *int    `json:"timeoutMs,omitempty"`
	RetryCount     *int    `json:"retryCount,omitempty"`
	RetryBackoffMs *int    `json:"retryBackoffMs,omitempty"`
	OnError        *string `json:"onError,omitempty"`
}

// Node is one typed step in the pipeline.
type Node struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Name          string            `json:"name,omitempty"`
	Enabled       bool              `json:"enabled"`
	Config        map[string]any    `json:"config,omitempty"`
	RuntimePolicy *NodePolicy       `json:"runtimePolicy,omitempty"`
	InputBindings map[string]string `json:"inputBindings,omitempty"`
	OutputSchema  map[string]any    `json:"outputSchema,omitempty"`
}

// Edge connects two nodes. Condition is only meaningful for condition
// edges and may be a bool, a non-empty expression string, or an object
// with "field" and "operator" keys.
type Edge struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	EdgeType  string `json:"edgeType"`
	Condition any    `json:"condition,omitempty"`
}

// ExperimentConfig is the embedded A/B configuration of a snapshot.
type ExperimentConfig struct {
	Enabled        bool                `json:"enabled"`
	ExperimentCode string              `json:"experimentCode,omitempty"`
	Variants       []ExperimentVariant `json:"variants,omitempty"`
	SplitPolicy    string              `json:"splitPolicy,omitempty"`
	AutoStop       *AutoStopConfig     `json:"autoStop,omitempty"`
}

// ExperimentVariant binds a traffic share to a published graph version.
type ExperimentVariant struct {
	Version string  `json:"version"`
	Traffic float64 `json:"traffic"`
}

// AutoStopConfig controls loss-based automatic abort.
type AutoStopConfig struct {
	Enabled          bool     `json:"enabled"`
	BadCaseThreshold *float64 `json:"badCaseThreshold,omitempty"`
}

// IsTrigger reports whether a node type is a trigger. Trigger nodes are
// entry points and are exempt from orphan detection and runtime-policy
// resolution.
func IsTrigger(nodeType string) bool {
	if nodeType == "trigger" {
		return true
	}
	const suffix = "-trigger"
	return len(nodeType) > len(suffix) && nodeType[len(nodeType)-len(suffix):] == suffix
}

// NodeByID returns the node with the given id, or nil.
func (g *Graph) NodeByID(id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// InDegree returns the number of edges terminating at the node.
func (g *Graph) InDegree(nodeID string) int {
	n := 0
	for i := range g.Edges {
		if g.Edges[i].To == nodeID {
			n++
		}
	}
	return n
}

// OutDegree returns the number of edges originating at the node.
func (g *Graph) OutDegree(nodeID string) int {
	n := 0
	for i := range g.Edges {
		if g.Edges[i].From == nodeID {
			n++
		}
	}
	return n
}
