/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jerry-enebeli/beacon/config"
	"github.com/jerry-enebeli/beacon/database"
)

// CLI wraps the root Cobra command.
type CLI struct {
	cmd *cobra.Command
}

// beaconInstance holds what the subcommands share once the configuration is loaded.
type beaconInstance struct {
	cnf *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and applies the log level before any command runs.
func preRun(app *beaconInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(*configFile); err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		level, err := logrus.ParseLevel(cnf.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", cnf.LogLevel, err)
		}
		logrus.SetLevel(level)

		app.cnf = cnf
		return nil
	}
}

// datasource opens the configured store and applies pending migrations.
func (app *beaconInstance) datasource() (database.IDataSource, error) {
	ds, err := database.NewDataSource(app.cnf)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}
	return ds, nil
}

// NewCLI creates the root command and registers every subcommand.
func NewCLI() *CLI {
	var configFile string
	app := &beaconInstance{}

	rootCmd := &cobra.Command{
		Use:           "beacon",
		Short:         "Durable delivery of tracking calls to the marketing API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./beacon.json", "Configuration file (json or yaml)")
	rootCmd.PersistentPreRunE = preRun(app, &configFile)

	rootCmd.AddCommand(configCommands())
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(queueCommands(app))
	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(trackCommands(app))
	rootCmd.AddCommand(criteriaCommands(app))

	return &CLI{cmd: rootCmd}
}

func (c CLI) executeCLI() {
	if err := c.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
