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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func criteriaCommands(app *beaconInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "criteria",
		Short: "manage anonymous completion criteria",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "fetch",
		Short: "download the criteria and store them locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := app.startBeacon(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Stop()

			doc, err := b.FetchCriteria(cmd.Context())
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(doc, "", "    ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})
	return cmd
}
