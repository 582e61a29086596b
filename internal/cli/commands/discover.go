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

package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDiscoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Interact with the discovery scheduler",
	}
	cmd.AddCommand(newDiscoverTriggerCmd())
	cmd.AddCommand(newDiscoverStatusCmd())
	return cmd
}

func newDiscoverTriggerCmd() *cobra.Command {
	var connectionID int64
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Run an out-of-band discovery poll",
		Example: `  sqlopt discover trigger
  sqlopt discover trigger --connection=3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if eng == nil {
				return fmt.Errorf("engine not initialized")
			}
			var id *int64
			if cmd.Flags().Changed("connection") {
				id = &connectionID
			}
			if err := eng.TriggerMonitoring(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Println("discovery poll triggered")
			return nil
		},
	}
	cmd.Flags().Int64Var(&connectionID, "connection", 0, "limit the poll to a single connection ID")
	return cmd
}

func newDiscoverStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the scheduler's current status",
		RunE: func(cmd *cobra.Command, args []string) error {
			if eng == nil {
				return fmt.Errorf("engine not initialized")
			}
			status := eng.MonitoringStatus()
			fmt.Printf("running: %v\n", status.Running)
			fmt.Printf("last poll: %s\n", status.LastPollTime)
			fmt.Printf("queries discovered (lifetime): %d\n", status.QueriesDiscoveredLifetime)
			return nil
		},
	}
}
