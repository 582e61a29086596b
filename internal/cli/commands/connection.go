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

	"github.com/sqlopt/engine/internal/cli"
	"github.com/sqlopt/engine/internal/facade"
)

func newConnectionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "connection",
		Aliases: []string{"conn"},
		Short:   "Manage monitored database connections",
	}
	cmd.AddCommand(newConnectionListCmd())
	cmd.AddCommand(newConnectionCreateCmd())
	return cmd
}

func newConnectionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			if eng == nil {
				return fmt.Errorf("engine not initialized")
			}
			conns, err := eng.ListConnections(cmd.Context())
			if err != nil {
				return err
			}
			return cli.OutputResult(conns, outputFormat)
		},
	}
}

func newConnectionCreateCmd() *cobra.Command {
	req := facade.CreateConnectionRequest{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a connection, testing credentials before persisting",
		Example: `  sqlopt connection create --name prod-pg --engine PG \
    --host db.internal --port 5432 --database app --username sqlopt --password secret`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if eng == nil {
				return fmt.Errorf("engine not initialized")
			}
			conn, err := eng.CreateConnection(cmd.Context(), req)
			if err != nil {
				return err
			}
			return cli.OutputResult(conn, outputFormat)
		},
	}
	cmd.Flags().StringVar(&req.DisplayName, "name", "", "human-readable connection name")
	cmd.Flags().StringVar(&req.Engine, "engine", "", "PG, MYSQL, MSSQL, or ORACLE")
	cmd.Flags().StringVar(&req.Host, "host", "", "database host")
	cmd.Flags().IntVar(&req.Port, "port", 0, "database port")
	cmd.Flags().StringVar(&req.Database, "database", "", "database name")
	cmd.Flags().StringVar(&req.Username, "username", "", "database username")
	cmd.Flags().StringVar(&req.Password, "password", "", "database password")
	cmd.Flags().BoolVar(&req.MonitoringEnabled, "monitor", true, "enable the discovery scheduler for this connection")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("engine")
	cmd.MarkFlagRequired("host")
	cmd.MarkFlagRequired("database")
	cmd.MarkFlagRequired("username")
	return cmd
}
