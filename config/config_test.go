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

package config

import (
	"encoding/json"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAndAddDefaults(t *testing.T) {
	cnf := Configuration{BaseURL: "https://api.example.com/api"}
	err := cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "api key is required" {
		t.Errorf("Expected api key required error, got %v", err)
	}

	cnf = Configuration{ApiKey: "key"}
	err = cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "base URL is required" {
		t.Errorf("Expected base URL required error, got %v", err)
	}

	cnf = Configuration{ApiKey: " key ", BaseURL: "https://api.example.com/api"}
	require.NoError(t, cnf.validateAndAddDefaults())

	assert.Equal(t, "key", cnf.ApiKey)
	assert.Equal(t, "https://api.example.com/api/", cnf.BaseURL)
	assert.Equal(t, DEFAULT_DATA_SOURCE, cnf.DataSource.Dns)
	assert.Equal(t, DEFAULT_MAX_QUEUED_TASKS, cnf.Queue.MaxQueuedTasks)
	assert.Equal(t, DEFAULT_MAX_ATTEMPTS, cnf.Queue.MaxAttempts)
	assert.Equal(t, 6, cnf.Auth.RetryIntervalSec)
	assert.Equal(t, 10, cnf.Auth.MaxRetry)
	assert.Equal(t, 60, cnf.Auth.RefreshPeriodSec)
	assert.Equal(t, RetryBackoffExponential, cnf.Auth.RetryBackoff)
	assert.Equal(t, DEFAULT_EVENT_THRESHOLD, cnf.Anonymous.EventThreshold)
	assert.Equal(t, 3*time.Second, cnf.WriteTimeout())
	assert.Equal(t, 10*time.Second, cnf.ReadTimeout())
}

func TestValidateAndAddDefaults_InvalidBackoff(t *testing.T) {
	cnf := Configuration{ApiKey: "key", BaseURL: "https://api.example.com/api/"}
	cnf.Auth.RetryBackoff = "fibonacci"

	err := cnf.validateAndAddDefaults()
	assert.EqualError(t, err, "auth retry backoff must be exponential or linear")

	cnf.Auth.RetryBackoff = "LINEAR"
	assert.NoError(t, cnf.validateAndAddDefaults())
	assert.Equal(t, RetryBackoffLinear, cnf.Auth.RetryBackoff)
}

func TestLoadConfigFromFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "beacon-*.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "Temp Project",
		ApiKey:      "file-key",
		BaseURL:     "https://api.example.com/api/",
		DataSource: DataSourceConfig{
			Dns: "temp.db",
		},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close()

	t.Setenv("BEACON_PROJECT_NAME", "Env Project")
	t.Setenv("BEACON_QUEUE_MAX_ATTEMPTS", "7")

	if err := loadConfigFromFile(tmpFile.Name()); err != nil {
		t.Fatalf("loadConfigFromFile failed: %v", err)
	}

	loadedConfig, err := Fetch()
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	assert.Equal(t, "Env Project", loadedConfig.ProjectName)
	assert.Equal(t, "temp.db", loadedConfig.DataSource.Dns)
	assert.Equal(t, "file-key", loadedConfig.ApiKey)
	assert.Equal(t, 7, loadedConfig.Queue.MaxAttempts)
}

func TestLoadConfigFromYAMLFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "beacon-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	_, err = tmpFile.WriteString(`
api_key: yaml-key
base_url: https://api.example.com/api/
queue:
  offline_processing: true
  max_queued_tasks: 50
anonymous:
  enabled: true
  event_threshold: 20
auth:
  retry_backoff: linear
`)
	require.NoError(t, err)
	tmpFile.Close()

	require.NoError(t, InitConfig(tmpFile.Name()))

	cnf, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, "yaml-key", cnf.ApiKey)
	assert.True(t, cnf.Queue.OfflineProcessing)
	assert.Equal(t, 50, cnf.Queue.MaxQueuedTasks)
	assert.True(t, cnf.Anonymous.Enabled)
	assert.Equal(t, 20, cnf.Anonymous.EventThreshold)
	assert.Equal(t, RetryBackoffLinear, cnf.Auth.RetryBackoff)
}

func TestFetchWithoutConfig(t *testing.T) {
	ConfigStore = atomic.Value{}
	_, err := Fetch()
	assert.Error(t, err)
}

func TestMockConfig(t *testing.T) {
	MockConfig(&Configuration{ProjectName: "mocked"})
	cnf, err := Fetch()
	assert.NoError(t, err)
	assert.Equal(t, "mocked", cnf.ProjectName)
}
