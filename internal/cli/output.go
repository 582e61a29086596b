// Copyright © 2024 SQL Workload Optimization Engine Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cli holds the sqlopt command-line output formatting shared by
// every subcommand in internal/cli/commands.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/sqlopt/engine/internal/model"
)

// OutputResult renders data in the requested format (text, json, yaml).
// Unrecognized formats fall back to text.
func OutputResult(data interface{}, format string) error {
	switch format {
	case "json":
		return outputJSON(data)
	case "yaml":
		return outputYAML(data)
	default:
		return outputText(data)
	}
}

func outputJSON(data interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func outputYAML(data interface{}) error {
	enc := yaml.NewEncoder(os.Stdout)
	defer enc.Close()
	return enc.Encode(data)
}

// outputText type-switches on the result shapes the CLI actually produces,
// falling back to JSON for anything it doesn't recognize.
func outputText(data interface{}) error {
	switch v := data.(type) {
	case *model.Connection:
		printConnection(v)
	case []*model.Connection:
		printConnections(v)
	case *model.Optimization:
		printOptimization(v)
	case *model.AppliedFix:
		printAppliedFix(v)
	default:
		color.Yellow("no text formatter for this result, falling back to json")
		return outputJSON(data)
	}
	return nil
}

func printConnection(c *model.Connection) {
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintf(w, "ID\t%d\n", c.ID)
	fmt.Fprintf(w, "Name\t%s\n", c.DisplayName)
	fmt.Fprintf(w, "Engine\t%s\n", c.Engine)
	fmt.Fprintf(w, "Host\t%s:%d\n", c.Host, c.Port)
	fmt.Fprintf(w, "Database\t%s\n", c.Database)
	fmt.Fprintf(w, "Monitoring\t%s\n", monitoringLabel(c.MonitoringEnabled))
	w.Flush()
}

func printConnections(conns []*model.Connection) {
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tENGINE\tHOST\tMONITORING")
	for _, c := range conns {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s:%d\t%s\n", c.ID, c.DisplayName, c.Engine, c.Host, c.Port, monitoringLabel(c.MonitoringEnabled))
	}
	w.Flush()
}

func monitoringLabel(enabled bool) string {
	if enabled {
		return color.GreenString("enabled")
	}
	return color.New(color.Faint).Sprint("disabled")
}

func printOptimization(o *model.Optimization) {
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintf(w, "ID\t%d\n", o.ID)
	fmt.Fprintf(w, "Connection\t%d\n", o.ConnectionID)
	fmt.Fprintf(w, "Status\t%s\n", statusColor(string(o.Status)))
	fmt.Fprintf(w, "Detected issues\t%d\n", len(o.DetectedIssues))
	fmt.Fprintf(w, "Estimated improvement\t%.1f%%\n", o.EstimatedImprovementPct)
	w.Flush()
}

func printAppliedFix(f *model.AppliedFix) {
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintf(w, "ID\t%d\n", f.ID)
	fmt.Fprintf(w, "Type\t%s\n", f.FixType)
	fmt.Fprintf(w, "Status\t%s\n", statusColor(string(f.Status)))
	fmt.Fprintf(w, "Dry run\t%v\n", f.Status == model.FixDryRunOK || f.Status == model.FixDryRunFailed)
	w.Flush()
}

// statusColor colorizes a status string the way a terminal dashboard would:
// green for terminal-success states, yellow for in-flight, red for failure.
func statusColor(status string) string {
	switch status {
	case "APPLIED", "VALIDATED", "COMPLETED", "SUCCESS":
		return color.GreenString(status)
	case "FAILED", "REVERTED", "ROLLED_BACK":
		return color.RedString(status)
	default:
		return color.YellowString(status)
	}
}
