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
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jerry-enebeli/beacon"
)

// parseFields turns key=value pairs into data fields. Values that parse as
// JSON numbers or booleans keep their type.
func parseFields(pairs []string) (map[string]interface{}, error) {
	fields := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q, expected key=value", pair)
		}
		if b, err := strconv.ParseBool(value); err == nil {
			fields[key] = b
			continue
		}
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			fields[key] = f
			continue
		}
		fields[key] = value
	}
	return fields, nil
}

// trackCommands sends one custom event and waits for its outcome.
func trackCommands(app *beaconInstance) *cobra.Command {
	var (
		email, userID string
		pairs         []string
		offline       bool
	)
	cmd := &cobra.Command{
		Use:   "track <event>",
		Short: "track a custom event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseFields(pairs)
			if err != nil {
				return err
			}

			b, err := app.startBeacon(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Stop()

			if cmd.Flags().Changed("offline") {
				b.SetOfflineProcessing(offline)
			}
			identify(b, email, userID)

			result := make(chan error, 1)
			b.TrackEvent(args[0], fields, &beacon.ResultHandler{
				OnSuccess: func(body map[string]interface{}) {
					out, _ := json.Marshal(body)
					fmt.Fprintln(cmd.OutOrStdout(), string(out))
					result <- nil
				},
				OnFailure: func(err error, body map[string]interface{}) {
					result <- err
				},
			})

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			select {
			case err := <-result:
				return err
			case <-ctx.Done():
				return fmt.Errorf("event not delivered yet, it stays queued: %w", ctx.Err())
			}
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "identify as this email")
	cmd.Flags().StringVar(&userID, "user-id", "", "identify as this user id")
	cmd.Flags().StringArrayVar(&pairs, "field", nil, "data field as key=value, repeatable")
	cmd.Flags().BoolVar(&offline, "offline", false, "queue the event as a task instead of sending it directly")
	return cmd
}
