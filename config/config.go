/*
Copyright 2024 Rosync Authors.

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
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

var ConfigStore atomic.Value

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"ROSYNC_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"ROSYNC_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"ROSYNC_REDIS_SKIP_TLS_VERIFY"`
}

// ReplicaConfig describes the external spreadsheet-backed replica: the batch
// API endpoint, the workbook that mirrors the store, the per-stage sheet names
// and the stored refresh credential used to mint access tokens.
type ReplicaConfig struct {
	BaseURL      string `json:"base_url" envconfig:"ROSYNC_REPLICA_BASE_URL"`
	WorkbookID   string `json:"workbook_id" envconfig:"ROSYNC_REPLICA_WORKBOOK_ID"`
	TokenURL     string `json:"token_url" envconfig:"ROSYNC_REPLICA_TOKEN_URL"`
	ClientID     string `json:"client_id" envconfig:"ROSYNC_REPLICA_CLIENT_ID"`
	ClientSecret string `json:"client_secret" envconfig:"ROSYNC_REPLICA_CLIENT_SECRET"`
	RefreshToken string `json:"refresh_token" envconfig:"ROSYNC_REPLICA_REFRESH_TOKEN"`
	ActiveSheet  string `json:"active_sheet" envconfig:"ROSYNC_REPLICA_ACTIVE_SHEET"`
	ReturnsSheet string `json:"returns_sheet" envconfig:"ROSYNC_REPLICA_RETURNS_SHEET"`
	PaidSheet    string `json:"paid_sheet" envconfig:"ROSYNC_REPLICA_PAID_SHEET"`
	NetSheet     string `json:"net_sheet" envconfig:"ROSYNC_REPLICA_NET_SHEET"`
}

// MailConfig describes the external messaging API used by the delivery worker.
type MailConfig struct {
	BaseURL     string `json:"base_url" envconfig:"ROSYNC_MAIL_BASE_URL"`
	Token       string `json:"token" envconfig:"ROSYNC_MAIL_TOKEN"`
	SenderEmail string `json:"sender_email" envconfig:"ROSYNC_MAIL_SENDER_EMAIL"`
}

type QueueConfig struct {
	PushQueue        string `json:"push_queue" envconfig:"ROSYNC_PUSH_QUEUE"`
	PullQueue        string `json:"pull_queue" envconfig:"ROSYNC_PULL_QUEUE"`
	MoveQueue        string `json:"move_queue" envconfig:"ROSYNC_MOVE_QUEUE"`
	FollowUpQueue    string `json:"follow_up_queue" envconfig:"ROSYNC_FOLLOW_UP_QUEUE"`
	DeliveryQueue    string `json:"delivery_queue" envconfig:"ROSYNC_DELIVERY_QUEUE"`
	WebhookQueue     string `json:"webhook_queue" envconfig:"ROSYNC_WEBHOOK_QUEUE"`
	MaxRetryAttempts int    `json:"max_retry_attempts" envconfig:"ROSYNC_MAX_RETRY_ATTEMPTS"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"ROSYNC_PROJECT_NAME"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"ROSYNC_ENABLE_TELEMETRY"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Replica         ReplicaConfig    `json:"replica"`
	Mail            MailConfig       `json:"mail"`
	Queue           QueueConfig      `json:"queue"`
	Notification    Notification     `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("rosync", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called rosync.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Rosync"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Replica.BaseURL = strings.TrimRight(strings.TrimSpace(cnf.Replica.BaseURL), "/")
	cnf.Mail.BaseURL = strings.TrimRight(strings.TrimSpace(cnf.Mail.BaseURL), "/")

	if cnf.Replica.ActiveSheet == "" {
		cnf.Replica.ActiveSheet = "Active"
	}
	if cnf.Replica.ReturnsSheet == "" {
		cnf.Replica.ReturnsSheet = "Returns"
	}
	if cnf.Replica.PaidSheet == "" {
		cnf.Replica.PaidSheet = "Paid"
	}
	if cnf.Replica.NetSheet == "" {
		cnf.Replica.NetSheet = "Net"
	}

	if cnf.Queue.PushQueue == "" {
		cnf.Queue.PushQueue = "new:push"
	}
	if cnf.Queue.PullQueue == "" {
		cnf.Queue.PullQueue = "new:pull"
	}
	if cnf.Queue.MoveQueue == "" {
		cnf.Queue.MoveQueue = "new:move"
	}
	if cnf.Queue.FollowUpQueue == "" {
		cnf.Queue.FollowUpQueue = "new:followup"
	}
	if cnf.Queue.DeliveryQueue == "" {
		cnf.Queue.DeliveryQueue = "new:delivery"
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "new:webhook"
	}
	if cnf.Queue.MaxRetryAttempts <= 0 {
		cnf.Queue.MaxRetryAttempts = 5
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	_ = mockConfig.validateAndAddDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
