package helpers

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig mirrors the environment keys. Values loaded from CONFIG_FILE
// become defaults that environment variables override.
type FileConfig struct {
	Port            string        `yaml:"port"`
	Env             string        `yaml:"env"`
	Debug           bool          `yaml:"debug"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	StoreBackend    string        `yaml:"store_backend"`

	DB struct {
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
	} `yaml:"db"`

	DynamoDB struct {
		Region             string `yaml:"region"`
		Endpoint           string `yaml:"endpoint"`
		JarsTable          string `yaml:"jars_table"`
		ContributionsTable string `yaml:"contributions_table"`
		PaymentsTable      string `yaml:"payments_table"`
	} `yaml:"dynamodb"`

	RabbitMQ struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
		Queue    string `yaml:"queue"`
	} `yaml:"rabbitmq"`

	Webhook struct {
		Secret string `yaml:"secret"`
	} `yaml:"webhook"`

	Gateway struct {
		APIBaseURL            string        `yaml:"api_base_url"`
		PayHeroBaseURL        string        `yaml:"payhero_base_url"`
		PayHeroAuthToken      string        `yaml:"payhero_auth_token"`
		PayHeroChannelID      int           `yaml:"payhero_channel_id"`
		PesapalBaseURL        string        `yaml:"pesapal_api_url"`
		PesapalConsumerKey    string        `yaml:"pesapal_consumer_key"`
		PesapalConsumerSecret string        `yaml:"pesapal_consumer_secret"`
		PesapalIPNID          string        `yaml:"pesapal_ipn_id"`
		Timeout               time.Duration `yaml:"timeout"`
	} `yaml:"gateway"`

	LedgerTimeout time.Duration `yaml:"ledger_timeout"`
}

// LoadConfigFile reads a YAML config. An empty path yields a zero FileConfig.
func LoadConfigFile(path string) (*FileConfig, error) {
	cfg := &FileConfig{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Or returns v unless it is the zero value, in which case it returns fallback.
func Or[T comparable](v, fallback T) T {
	var zero T
	if v == zero {
		return fallback
	}
	return v
}
