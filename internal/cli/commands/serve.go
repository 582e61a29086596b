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
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sqlopt/engine/internal/common/logger"
)

// newServeCmd starts the Discovery Scheduler and blocks until the process
// receives a termination signal. The capability surface itself is plain Go
// methods on eng; binding them to a transport is out of scope here.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the discovery scheduler and block",
		Long: `serve starts the background poll loop that discovers slow queries
across every monitored connection. It does not start an HTTP server; the
capability interfaces it drives are consumed in-process or through a
separately deployed transport.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if eng == nil {
				return fmt.Errorf("engine not initialized")
			}
			log := logger.GetLogger()

			if err := eng.StartMonitoring(cmd.Context()); err != nil {
				return fmt.Errorf("failed to start monitoring: %w", err)
			}
			log.Info("discovery scheduler started, serving until interrupted")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			<-sigCh

			log.Info("shutdown signal received, stopping scheduler")
			eng.StopMonitoring()
			return nil
		},
	}
}
