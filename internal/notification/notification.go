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

package notification

import (
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/beacon/config"
	"github.com/jerry-enebeli/beacon/internal/request"
)

// Notifier reports infrastructure failures to the log and, when configured, to Slack.
type Notifier struct {
	webhookURL  string
	projectName string
	wg          sync.WaitGroup
}

// New builds a Notifier from the notification section of the configuration.
func New(cnf *config.Configuration) *Notifier {
	if cnf == nil {
		return &Notifier{}
	}
	return &Notifier{webhookURL: cnf.Notification.Slack.WebhookUrl, projectName: cnf.ProjectName}
}

func slackMessage(projectName string, err error) map[string]interface{} {
	field := func(text string) map[string]interface{} {
		return map[string]interface{}{
			"type":   "section",
			"fields": []interface{}{map[string]interface{}{"type": "mrkdwn", "text": text}},
		}
	}
	return map[string]interface{}{
		"blocks": []interface{}{
			map[string]interface{}{
				"type": "header",
				"text": map[string]interface{}{
					"type":  "plain_text",
					"text":  "Error From " + projectName + " 🐞",
					"emoji": true,
				},
			},
			field("*Error:*\n" + err.Error()),
			field("*Time:*\n" + time.Now().Format(time.RFC822)),
		},
	}
}

// SlackNotification sends an error message to a Slack webhook.
// It formats the error details and the current time into a Slack message payload.
//
// Parameters:
// - webhookURL: The incoming webhook to post to.
// - projectName: Shown in the message header.
// - err: The error to be reported via Slack.
func SlackNotification(webhookURL, projectName string, err error) error {
	payload, marshalErr := request.ToJsonReq(slackMessage(projectName, err))
	if marshalErr != nil {
		return marshalErr
	}

	req, reqErr := http.NewRequest(http.MethodPost, webhookURL, payload)
	if reqErr != nil {
		return reqErr
	}

	// Slack answers "ok" as plain text, so a decode error is expected and ignored.
	var response interface{}
	resp, callErr := request.Call(req, &response)
	if resp == nil {
		return callErr
	}
	return nil
}

// NotifyError sends an error notification through the configured notification system.
// It logs the error locally and sends a notification via Slack (if configured).
//
// Parameters:
// - systemError: The error to notify.
//
// This function runs the notification process asynchronously using a goroutine to avoid blocking.
func (n *Notifier) NotifyError(systemError error) {
	if n == nil || systemError == nil {
		return
	}
	n.wg.Add(1)
	go func(systemError error) {
		defer n.wg.Done()
		logrus.Error(systemError)

		if n.webhookURL == "" {
			return
		}
		if err := SlackNotification(n.webhookURL, n.projectName, systemError); err != nil {
			logrus.WithError(err).Warn("failed to send slack notification")
		}
	}(systemError)
}

// Wait blocks until every notification sent so far has been delivered.
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}
