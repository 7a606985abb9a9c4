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

	"github.com/spf13/cobra"

	"github.com/jerry-enebeli/beacon/database"
)

// migrateCommands creates the root command for migration-related operations.
func migrateCommands(app *beaconInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply or roll back the task store schema",
	}

	cmd.AddCommand(migrateUpCommands(app))
	cmd.AddCommand(migrateDownCommands(app))

	return cmd
}

func migrateUpCommands(app *beaconInstance) *cobra.Command {
	return &cobra.Command{
		Use: "up",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.ConnectDB(app.cnf.DataSource.Dns)
			if err != nil {
				return fmt.Errorf("error connecting to database: %w", err)
			}
			defer db.Close()

			n, err := database.Migrate(db)
			if err != nil {
				return fmt.Errorf("error migrating up: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migrations!\n", n)
			return nil
		},
	}
}

func migrateDownCommands(app *beaconInstance) *cobra.Command {
	return &cobra.Command{
		Use: "down",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.ConnectDB(app.cnf.DataSource.Dns)
			if err != nil {
				return fmt.Errorf("error connecting to database: %w", err)
			}
			defer db.Close()

			n, err := database.MigrateDown(db)
			if err != nil {
				return fmt.Errorf("error migrating down: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %d migrations!\n", n)
			return nil
		},
	}
}
