package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	CourierHub CourierHubConfig `yaml:"courierhub"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	OrderChangedTopicName string `yaml:"order_changed_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type CourierHubConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	// Радиус подбора заказов. Live-вариант строже обычного.
	MatchRadiusKm     float64 `yaml:"match_radius_km"`
	LiveMatchRadiusKm float64 `yaml:"live_match_radius_km"`

	// Notifications about new available orders, per courier per minute.
	// 0 disables the cap.
	NewOrderNotifyPerMinute int `yaml:"new_order_notify_per_minute"`

	LocationWriteIntervalMS       int `yaml:"location_write_interval_ms"`
	LocationRequestTimeoutSeconds int `yaml:"location_request_timeout_seconds"`
	LiveLocationTTLSeconds        int `yaml:"live_location_ttl_seconds"`

	SummaryTTLSeconds int `yaml:"summary_ttl_seconds"`

	AgentCourierID uint64 `yaml:"agent_courier_id"`
	AgentHTTPAddr  string `yaml:"agent_http_addr"`
	AgentGPSMode   string `yaml:"agent_gps_mode"` // "push" | "fake"
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
