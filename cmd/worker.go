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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jerry-enebeli/beacon"
	"github.com/jerry-enebeli/beacon/model"
)

// startBeacon opens the store and starts a Beacon that logs every host callback.
func (app *beaconInstance) startBeacon(ctx context.Context) (*beacon.Beacon, error) {
	ds, err := app.datasource()
	if err != nil {
		return nil, err
	}

	b, err := beacon.NewBeacon(ds, app.cnf, beacon.Handlers{
		OnAuthFailure: func(failure model.AuthFailure) {
			logrus.WithFields(logrus.Fields{
				"user_key": failure.UserKey,
				"reason":   failure.Reason.String(),
			}).Error("auth failure reported")
		},
		OnUserCreated: func(userID string) {
			logrus.WithField("user_id", userID).Info("anonymous visitor promoted")
		},
	})
	if err != nil {
		_ = ds.Close()
		return nil, fmt.Errorf("error creating beacon: %v", err)
	}

	b.Start(ctx)
	return b, nil
}

// workerCommands runs the task runner until interrupted, delivering whatever is queued.
func workerCommands(app *beaconInstance) *cobra.Command {
	var email, userID string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "deliver queued tasks until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			b, err := app.startBeacon(ctx)
			if err != nil {
				return err
			}
			identify(b, email, userID)

			logrus.Info("worker running, press ctrl+c to stop")
			<-ctx.Done()

			b.Stop()
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "identify as this email")
	cmd.Flags().StringVar(&userID, "user-id", "", "identify as this user id")
	return cmd
}

func identify(b *beacon.Beacon, email, userID string) {
	switch {
	case email != "":
		b.SetEmail(email)
	case userID != "":
		b.SetUserID(userID)
	}
}
