// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command flowctl validates graph snapshots and resolves parameter sets
// from local JSON or YAML files, without a running server.
//
// Usage:
//
//	flowctl validate graph.json --stage PUBLISH
//	flowctl resolve params.yaml --commodity CORN --override stop_loss=0.01
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianFlow/services/workflow/dsl"
	"github.com/AleutianAI/AleutianFlow/services/workflow/params"
	"github.com/AleutianAI/AleutianFlow/services/workflow/validator"
)

func main() {
	root := &cobra.Command{
		Use:           "flowctl",
		Short:         "Offline tooling for AleutianFlow decision pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newValidateCmd(), newResolveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newValidateCmd() *cobra.Command {
	var stage string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "validate <graph-file>",
		Short: "Validate a graph snapshot at SAVE or PUBLISH stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var g dsl.Graph
			if err := decodeFile(args[0], &g); err != nil {
				return err
			}

			st := validator.StageSave
			if strings.EqualFold(stage, string(validator.StagePublish)) {
				st = validator.StagePublish
			}
			res := validator.Validate(&g, st)

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else {
				printResult(cmd, res, st)
			}
			if !res.Valid {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "SAVE", "Validation stage: SAVE or PUBLISH")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the raw result as JSON")
	return cmd
}

func printResult(cmd *cobra.Command, res validator.Result, stage validator.Stage) {
	out := cmd.OutOrStdout()
	if len(res.Issues) == 0 {
		fmt.Fprintf(out, "OK: no issues at %s\n", stage)
		return
	}
	for _, iss := range res.Issues {
		loc := ""
		if iss.NodeID != "" {
			loc = " node=" + iss.NodeID
		}
		if iss.EdgeID != "" {
			loc += " edge=" + iss.EdgeID
		}
		fmt.Fprintf(out, "%-7s %s%s  %s\n", iss.Severity, iss.Code, loc, iss.Message)
	}
	verdict := "VALID"
	if !res.Valid {
		verdict = "INVALID"
	}
	fmt.Fprintf(out, "%s: %d issue(s) at %s\n", verdict, len(res.Issues), stage)
}

func newResolveCmd() *cobra.Command {
	var commodity, region, route, strategy string
	var overrides []string

	cmd := &cobra.Command{
		Use:   "resolve <paramset-file>",
		Short: "Resolve a parameter set for a request context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var set params.Set
			if err := decodeFile(args[0], &set); err != nil {
				return err
			}

			rc := params.Context{
				Commodity: commodity,
				Region:    region,
				Route:     route,
				Strategy:  strategy,
			}
			if len(overrides) > 0 {
				rc.SessionOverrides = make(map[string]any, len(overrides))
				for _, ov := range overrides {
					k, v, ok := strings.Cut(ov, "=")
					if !ok {
						return fmt.Errorf("override %q must be key=value", ov)
					}
					rc.SessionOverrides[k] = coerceOverride(v)
				}
			}

			resolved := params.Resolve(&set, rc)
			out := cmd.OutOrStdout()
			for _, r := range resolved {
				raw, _ := json.Marshal(r.Value)
				fmt.Fprintf(out, "%-24s = %-16s (%s)\n", r.ParamCode, raw, r.SourceScope)
			}
			fmt.Fprintf(out, "%d parameter(s) resolved\n", len(resolved))
			return nil
		},
	}
	cmd.Flags().StringVar(&commodity, "commodity", "", "Commodity dimension, e.g. CORN")
	cmd.Flags().StringVar(&region, "region", "", "Region dimension")
	cmd.Flags().StringVar(&route, "route", "", "Route dimension")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Strategy dimension")
	cmd.Flags().StringArrayVar(&overrides, "override", nil, "Session override key=value (repeatable)")
	return cmd
}

// coerceOverride keeps CLI overrides usable for numeric and boolean
// parameters without forcing JSON on the shell.
func coerceOverride(v string) any {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v
}

// decodeFile reads JSON or YAML into v based on the file extension.
func decodeFile(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch {
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		// Round-trip through JSON so the json struct tags apply.
		var doc any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		jsonRaw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("convert %s: %w", path, err)
		}
		raw = jsonRaw
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
