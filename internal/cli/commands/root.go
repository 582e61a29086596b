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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sqlopt/engine/internal/cache"
	"github.com/sqlopt/engine/internal/common/config"
	"github.com/sqlopt/engine/internal/common/logger"
	"github.com/sqlopt/engine/internal/completion"
	"github.com/sqlopt/engine/internal/discovery"
	"github.com/sqlopt/engine/internal/facade"
	"github.com/sqlopt/engine/internal/gateway"
	"github.com/sqlopt/engine/internal/model"
	"github.com/sqlopt/engine/internal/secrets"
	"github.com/sqlopt/engine/internal/store"
)

var (
	cfgFile      string
	outputFormat string

	// eng is the process-wide capability surface, built in
	// PersistentPreRunE so every subcommand sees the same store, gateways
	// and scheduler.
	eng *facade.Facade
)

var rootCmd = &cobra.Command{
	Use:   "sqlopt",
	Short: "sqlopt observes SQL workloads and proposes safe optimizations.",
	Long: `sqlopt discovers slow queries across registered database connections,
detects the execution-plan issues behind them, and drives a
generate-apply-validate loop for the fixes it proposes.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile == "" {
			cfgFile = "configs/config.yaml"
			if _, err := os.Stat(cfgFile); err != nil {
				cfgFile = ""
			}
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logCfg := cfg.Logger
		logCfg.Level = viper.GetString("logger.level")
		logger.InitGlobalLogger(&logCfg)
		log := logger.GetLogger()
		log.Debugf("logger initialized at level %s", logCfg.Level)

		secretStore, err := secrets.NewAESGCMStore(cfg.SecretsKey())
		if err != nil {
			return fmt.Errorf("failed to build secret store: %w", err)
		}

		st, err := store.Open(&cfg.Store, logger.NewLogger("store"))
		if err != nil {
			return fmt.Errorf("failed to open observability store: %w", err)
		}

		pool := gateway.NewPool(logger.NewLogger("gateway"))
		gateways := map[model.Engine]gateway.Gateway{
			model.EnginePG:    gateway.NewPostgresGateway(pool, logger.NewLogger("gateway.postgres")),
			model.EngineMySQL: gateway.NewMySQLGateway(pool, logger.NewLogger("gateway.mysql")),
		}

		var completionSvc completion.Service
		if cfg.LLM.OpenAI.APIKey != "" {
			svc, err := completion.NewOpenAIService(&cfg.LLM.OpenAI)
			if err != nil {
				log.Warnf("completion service disabled: %v", err)
			} else {
				completionSvc = svc
			}
		}

		sched := discovery.New(st, gateways, &cfg.Discovery, logger.NewLogger("discovery"))

		cch, err := cache.Open(cmd.Context(), &cfg.Cache)
		if err != nil {
			log.Warnf("cache disabled: %v", err)
			cch = nil
		}

		eng = facade.New(facade.Deps{
			Store:         st,
			Secrets:       secretStore,
			Gateways:      gateways,
			Scheduler:     sched,
			CompletionSvc: completionSvc,
			Cache:         cch,
			Cfg:           cfg,
			Log:           log,
		})

		log.Info("engine initialized")
		return nil
	},
}

// Execute is the process entry point invoked by cmd/sqlopt.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is configs/config.yaml if present)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format (text, json, yaml)")

	viper.BindPFlag("logger.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newDiscoverCmd())
	rootCmd.AddCommand(newOptimizeCmd())
	rootCmd.AddCommand(newConnectionCmd())
	rootCmd.AddCommand(newMigrateCmd())

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the sqlopt version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("sqlopt v0.1.0")
		},
	})
}
