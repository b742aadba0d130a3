// Copyright 2025 The ingestd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/httpsyslog/ingestd/agent"
	"github.com/httpsyslog/ingestd/confengine"
	"github.com/httpsyslog/ingestd/internal/sigs"
	"github.com/httpsyslog/ingestd/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP ingestion engine",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := confengine.LoadConfigPath(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}

		a, err := agent.New(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create agent: %v\n", err)
			os.Exit(1)
		}
		if err := a.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start agent: %v\n", err)
			os.Exit(1)
		}

		var reloadTotal int
		for {
			select {
			case <-sigs.Terminate():
				a.Stop()
				return

			case <-sigs.Reload():
				reloadTotal++

				cfg, err := confengine.LoadConfigPath(configPath)
				if err != nil {
					fmt.Fprintf(os.Stderr, "failed to load config (count=%d): %v\n", reloadTotal, err)
					continue
				}

				start := time.Now()
				if err := a.Reload(cfg); err != nil {
					logger.Errorf("failed to reload config: %v", err)
				}
				logger.Infof("reload (count=%d) took %s", reloadTotal, time.Since(start))
			}
		}
	},
	Example: "# ingestd serve --config ingestd.yaml",
}

var configPath string

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "ingestd.yaml", "Configuration file path")
	rootCmd.AddCommand(serveCmd)
}
