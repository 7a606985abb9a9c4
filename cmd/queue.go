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
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jerry-enebeli/beacon/model"
)

// queueCommands inspects and purges the persisted task queue.
func queueCommands(app *beaconInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "inspect the offline task queue",
	}

	cmd.AddCommand(queueListCommand(app))
	cmd.AddCommand(queueCountCommand(app))
	cmd.AddCommand(queuePurgeCommand(app))

	return cmd
}

func queueListCommand(app *beaconInstance) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list queued tasks in dispatch order",
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := app.datasource()
			if err != nil {
				return err
			}
			defer ds.Close()

			tasks, err := ds.ListTasks(limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tRESOURCE\tATTEMPTS\tSCHEDULED\tERROR")
			for _, task := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", task.ID, task.Name, task.Attempts, formatMillis(task.ScheduledAt), taskError(task))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of tasks to list")
	return cmd
}

func queueCountCommand(app *beaconInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "print the number of queued tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := app.datasource()
			if err != nil {
				return err
			}
			defer ds.Close()

			n, err := ds.CountTasks()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

func queuePurgeCommand(app *beaconInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "delete every queued task without sending it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := app.datasource()
			if err != nil {
				return err
			}
			defer ds.Close()

			n, err := ds.DeleteAllTasks()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d tasks\n", n)
			return nil
		},
	}
}

func taskError(task model.TaskRecord) string {
	if task.Error == nil {
		return ""
	}
	return *task.Error
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return model.MillisToTime(ms).Format(time.RFC3339)
}
