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
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jerry-enebeli/beacon/config"
)

func TestNotifyError_PostsToSlack(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	var body string
	httpmock.RegisterResponder(http.MethodPost, "https://hooks.slack.test/services/T000",
		func(req *http.Request) (*http.Response, error) {
			b, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			body = string(b)
			return httpmock.NewStringResponse(http.StatusOK, "ok"), nil
		})

	n := New(&config.Configuration{
		ProjectName:  "Beacon",
		Notification: config.Notification{Slack: config.SlackWebhook{WebhookUrl: "https://hooks.slack.test/services/T000"}},
	})
	n.NotifyError(errors.New(`task store "unavailable"`))
	n.Wait()

	assert.Equal(t, 1, httpmock.GetTotalCallCount())
	assert.Contains(t, body, "Error From Beacon")
	assert.Contains(t, body, `task store \"unavailable\"`)
}

func TestNotifyError_WithoutWebhook(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	n := New(&config.Configuration{})
	n.NotifyError(errors.New("boom"))
	n.Wait()

	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}

func TestNotifyError_NilNotifier(t *testing.T) {
	var n *Notifier
	assert.NotPanics(t, func() {
		n.NotifyError(errors.New("boom"))
		n.Wait()
	})
}

func TestSlackNotification_TransportError(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "https://hooks.slack.test/services/T000",
		httpmock.NewErrorResponder(errors.New("connection reset")))

	err := SlackNotification("https://hooks.slack.test/services/T000", "Beacon", errors.New("boom"))
	assert.Error(t, err)
}
