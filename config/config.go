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
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	DEFAULT_DATA_SOURCE      = "beacon.db"
	DEFAULT_MAX_QUEUED_TASKS = 1000
	DEFAULT_MAX_ATTEMPTS     = 5
	DEFAULT_EVENT_THRESHOLD  = 100

	RetryBackoffExponential = "exponential"
	RetryBackoffLinear      = "linear"
)

var ConfigStore atomic.Value

type DataSourceConfig struct {
	Dns string `json:"dns" yaml:"dns" envconfig:"DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" yaml:"dns" envconfig:"DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" yaml:"skip_tls_verify" envconfig:"SKIP_TLS_VERIFY"`
}

type QueueConfig struct {
	OfflineProcessing bool `json:"offline_processing" yaml:"offline_processing" envconfig:"OFFLINE_PROCESSING"`
	MaxQueuedTasks    int  `json:"max_queued_tasks" yaml:"max_queued_tasks" envconfig:"MAX_QUEUED_TASKS"`
	MaxAttempts       int  `json:"max_attempts" yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	RetryIntervalSec  int  `json:"retry_interval_sec" yaml:"retry_interval_sec" envconfig:"RETRY_INTERVAL_SEC"`
	MaxRetryDelaySec  int  `json:"max_retry_delay_sec" yaml:"max_retry_delay_sec" envconfig:"MAX_RETRY_DELAY_SEC"`
}

type AuthConfig struct {
	RefreshPeriodSec int    `json:"refresh_period_sec" yaml:"refresh_period_sec" envconfig:"REFRESH_PERIOD_SEC"`
	RetryIntervalSec int    `json:"retry_interval_sec" yaml:"retry_interval_sec" envconfig:"RETRY_INTERVAL_SEC"`
	MaxRetry         int    `json:"max_retry" yaml:"max_retry" envconfig:"MAX_RETRY"`
	RetryBackoff     string `json:"retry_backoff" yaml:"retry_backoff" envconfig:"RETRY_BACKOFF"`
	StaticToken      string `json:"static_token" yaml:"static_token" envconfig:"STATIC_TOKEN"`
}

type AnonymousConfig struct {
	Enabled          bool `json:"enabled" yaml:"enabled" envconfig:"ENABLED"`
	EventThreshold   int  `json:"event_threshold" yaml:"event_threshold" envconfig:"EVENT_THRESHOLD"`
	ReplayOnIdentify bool `json:"replay_on_identify" yaml:"replay_on_identify" envconfig:"REPLAY_ON_IDENTIFY"`
}

type RequestConfig struct {
	WriteTimeoutSec int `json:"write_timeout_sec" yaml:"write_timeout_sec" envconfig:"WRITE_TIMEOUT_SEC"`
	ReadTimeoutSec  int `json:"read_timeout_sec" yaml:"read_timeout_sec" envconfig:"READ_TIMEOUT_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" yaml:"webhook_url" envconfig:"WEBHOOK_URL"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack" yaml:"slack"`
}

type Configuration struct {
	ProjectName  string           `json:"project_name" yaml:"project_name" envconfig:"PROJECT_NAME"`
	ApiKey       string           `json:"api_key" yaml:"api_key" envconfig:"API_KEY"`
	BaseURL      string           `json:"base_url" yaml:"base_url" envconfig:"BASE_URL"`
	LogLevel     string           `json:"log_level" yaml:"log_level" envconfig:"LOG_LEVEL"`
	DataSource   DataSourceConfig `json:"data_source" yaml:"data_source"`
	Redis        RedisConfig      `json:"redis" yaml:"redis"`
	Queue        QueueConfig      `json:"queue" yaml:"queue"`
	Auth         AuthConfig       `json:"auth" yaml:"auth"`
	Anonymous    AnonymousConfig  `json:"anonymous" yaml:"anonymous"`
	Request      RequestConfig    `json:"request" yaml:"request"`
	Notification Notification     `json:"notification" yaml:"notification"`
}

func decodeFile(file string, cnf *Configuration) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml":
		return yaml.NewDecoder(f).Decode(cnf)
	default:
		return json.NewDecoder(f).Decode(cnf)
	}
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		if err := decodeFile(file, &cnf); err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config file not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("beacon", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return nil
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json or yaml file called beacon.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		cnf.ProjectName = "Beacon"
	}

	cnf.ApiKey = strings.TrimSpace(cnf.ApiKey)
	cnf.BaseURL = strings.TrimSpace(cnf.BaseURL)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.ApiKey == "" {
		log.Println("Error: API key is empty. It's a required field.")
		return errors.New("api key is required")
	}

	if cnf.BaseURL == "" {
		log.Println("Error: Base URL is empty. It's a required field.")
		return errors.New("base URL is required")
	}
	if !strings.HasSuffix(cnf.BaseURL, "/") {
		cnf.BaseURL += "/"
	}

	if cnf.DataSource.Dns == "" {
		cnf.DataSource.Dns = DEFAULT_DATA_SOURCE
		log.Printf("Warning: Data source not specified. Setting default: %s", DEFAULT_DATA_SOURCE)
	}

	if cnf.Queue.MaxQueuedTasks <= 0 {
		cnf.Queue.MaxQueuedTasks = DEFAULT_MAX_QUEUED_TASKS
	}
	if cnf.Queue.MaxAttempts <= 0 {
		cnf.Queue.MaxAttempts = DEFAULT_MAX_ATTEMPTS
	}
	if cnf.Queue.RetryIntervalSec <= 0 {
		cnf.Queue.RetryIntervalSec = 10
	}
	if cnf.Queue.MaxRetryDelaySec <= 0 {
		cnf.Queue.MaxRetryDelaySec = 600
	}

	if cnf.Auth.RefreshPeriodSec <= 0 {
		cnf.Auth.RefreshPeriodSec = 60
	}
	if cnf.Auth.RetryIntervalSec <= 0 {
		cnf.Auth.RetryIntervalSec = 6
	}
	if cnf.Auth.MaxRetry <= 0 {
		cnf.Auth.MaxRetry = 10
	}
	switch strings.ToLower(cnf.Auth.RetryBackoff) {
	case "":
		cnf.Auth.RetryBackoff = RetryBackoffExponential
	case RetryBackoffExponential, RetryBackoffLinear:
		cnf.Auth.RetryBackoff = strings.ToLower(cnf.Auth.RetryBackoff)
	default:
		return errors.New("auth retry backoff must be exponential or linear")
	}

	if cnf.Anonymous.EventThreshold <= 0 {
		cnf.Anonymous.EventThreshold = DEFAULT_EVENT_THRESHOLD
	}

	if cnf.Request.WriteTimeoutSec <= 0 {
		cnf.Request.WriteTimeoutSec = 3
	}
	if cnf.Request.ReadTimeoutSec <= 0 {
		cnf.Request.ReadTimeoutSec = 10
	}

	if cnf.LogLevel == "" {
		cnf.LogLevel = "info"
	}

	return nil
}

// WriteTimeout is the deadline applied to POST requests.
func (cnf *Configuration) WriteTimeout() time.Duration {
	return time.Duration(cnf.Request.WriteTimeoutSec) * time.Second
}

// ReadTimeout is the deadline applied to GET requests.
func (cnf *Configuration) ReadTimeout() time.Duration {
	return time.Duration(cnf.Request.ReadTimeoutSec) * time.Second
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
