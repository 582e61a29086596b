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
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sqlopt/engine/internal/cli"
)

func newOptimizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "optimize <connection-id> <sql-file>",
		Short: "Run a query through the optimization pipeline",
		Args:  cobra.ExactArgs(2),
		Example: `  sqlopt optimize 1 query.sql`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if eng == nil {
				return fmt.Errorf("engine not initialized")
			}
			connID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid connection id %q: %w", args[0], err)
			}
			raw, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read sql file: %w", err)
			}

			opt, err := eng.Optimize(cmd.Context(), connID, string(raw), nil)
			if err != nil {
				return err
			}
			return cli.OutputResult(opt, outputFormat)
		},
	}
}
