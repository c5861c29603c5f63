package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds all configuration for the application
type Config struct {
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Timescale TimescaleConfig `mapstructure:"timescale"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Firmware  FirmwareConfig  `mapstructure:"firmware"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// MQTTConfig holds MQTT connection configuration
type MQTTConfig struct {
	Broker             string        `mapstructure:"broker"`
	Port               int           `mapstructure:"port"`
	ClientID           string        `mapstructure:"client_id"`
	Topic              string        `mapstructure:"topic"`
	CommandTopicPrefix string        `mapstructure:"command_topic_prefix"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	PublishTimeout     time.Duration `mapstructure:"publish_timeout"`
}

// DatabaseConfig holds Postgres connection configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// TimescaleConfig holds Timescale specific configuration
type TimescaleConfig struct {
	TableName string `mapstructure:"table_name"`
}

// HTTPConfig holds the API listener configuration
type HTTPConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// FirmwareConfig points at the OTA image in S3
type FirmwareConfig struct {
	Region    string        `mapstructure:"region"`
	Bucket    string        `mapstructure:"bucket"`
	Key       string        `mapstructure:"key"`
	URLExpiry time.Duration `mapstructure:"url_expiry"`
}

// DashboardConfig holds the endpoints used by the dashboard client
type DashboardConfig struct {
	SensorEndpoint string        `mapstructure:"sensor_endpoint"`
	OTAEndpoint    string        `mapstructure:"ota_endpoint"`
	Timeframe      string        `mapstructure:"timeframe"`
	Output         string        `mapstructure:"output"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// envBindings maps every configuration key to its environment variable.
var envBindings = map[string]string{
	"mqtt.broker":               "MQTT_BROKER",
	"mqtt.port":                 "MQTT_PORT",
	"mqtt.client_id":            "MQTT_CLIENT_ID",
	"mqtt.topic":                "MQTT_TOPIC",
	"mqtt.command_topic_prefix": "MQTT_COMMAND_TOPIC_PREFIX",
	"mqtt.username":             "MQTT_USERNAME",
	"mqtt.password":             "MQTT_PASSWORD",
	"mqtt.publish_timeout":      "MQTT_PUBLISH_TIMEOUT",

	"database.host":     "DATABASE_HOST",
	"database.port":     "DATABASE_PORT",
	"database.user":     "DATABASE_USER",
	"database.password": "DATABASE_PASSWORD",
	"database.dbname":   "DATABASE_DBNAME",
	"database.sslmode":  "DATABASE_SSLMODE",

	"timescale.table_name": "TIMESCALE_TABLE_NAME",

	"http.address":       "HTTP_ADDRESS",
	"http.read_timeout":  "HTTP_READ_TIMEOUT",
	"http.write_timeout": "HTTP_WRITE_TIMEOUT",

	"firmware.region":     "FIRMWARE_REGION",
	"firmware.bucket":     "FIRMWARE_BUCKET",
	"firmware.key":        "FIRMWARE_KEY",
	"firmware.url_expiry": "FIRMWARE_URL_EXPIRY",

	"dashboard.sensor_endpoint": "DASHBOARD_SENSOR_ENDPOINT",
	"dashboard.ota_endpoint":    "DASHBOARD_OTA_ENDPOINT",
	"dashboard.timeframe":       "DASHBOARD_TIMEFRAME",
	"dashboard.output":          "DASHBOARD_OUTPUT",
	"dashboard.request_timeout": "DASHBOARD_REQUEST_TIMEOUT",
}

// LoadConfig loads configuration from file and/or environment variables
func LoadConfig(path string, logger *zap.Logger) (*Config, error) {
	v := viper.New()

	// Set default values first (lowest precedence)
	d := GetDefaultConfig()
	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.port", d.MQTT.Port)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.topic", d.MQTT.Topic)
	v.SetDefault("mqtt.command_topic_prefix", d.MQTT.CommandTopicPrefix)
	v.SetDefault("mqtt.username", d.MQTT.Username)
	v.SetDefault("mqtt.password", d.MQTT.Password)
	v.SetDefault("mqtt.publish_timeout", d.MQTT.PublishTimeout)

	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.user", d.Database.User)
	v.SetDefault("database.password", d.Database.Password)
	v.SetDefault("database.dbname", d.Database.DBName)
	v.SetDefault("database.sslmode", d.Database.SSLMode)

	v.SetDefault("timescale.table_name", d.Timescale.TableName)

	v.SetDefault("http.address", d.HTTP.Address)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)

	v.SetDefault("firmware.region", d.Firmware.Region)
	v.SetDefault("firmware.bucket", d.Firmware.Bucket)
	v.SetDefault("firmware.key", d.Firmware.Key)
	v.SetDefault("firmware.url_expiry", d.Firmware.URLExpiry)

	v.SetDefault("dashboard.sensor_endpoint", d.Dashboard.SensorEndpoint)
	v.SetDefault("dashboard.ota_endpoint", d.Dashboard.OTAEndpoint)
	v.SetDefault("dashboard.timeframe", d.Dashboard.Timeframe)
	v.SetDefault("dashboard.output", d.Dashboard.Output)
	v.SetDefault("dashboard.request_timeout", d.Dashboard.RequestTimeout)

	// Try to load from config file (medium precedence)
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Environment variables win over everything else.
	// Example: mqtt.broker -> MQTT_BROKER
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}
	// Keep backward compatibility with MQTT_BROKER_URL
	if err := v.BindEnv("mqtt.broker", "MQTT_BROKER_URL"); err != nil {
		return nil, fmt.Errorf("failed to bind MQTT_BROKER_URL: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			// Config file was found but another error was produced
			logger.Warn("error reading config file", zap.Error(err))
		} else {
			logger.Info("no config file found, using environment variables and defaults")
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if config.MQTT.ClientID == "" {
		config.MQTT.ClientID = "iot-dashboard-" + uuid.NewString()[:8]
	}

	return &config, nil
}

// GetDefaultConfig returns default configuration
func GetDefaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker:             "tcp://localhost",
			Port:               1883,
			ClientID:           "",
			Topic:              "/topic/data",
			CommandTopicPrefix: "/topic/command/",
			Username:           "",
			Password:           "",
			PublishTimeout:     10 * time.Second,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			DBName:   "iot_data",
			SSLMode:  "disable",
		},
		Timescale: TimescaleConfig{
			TableName: "sensor_readings",
		},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Firmware: FirmwareConfig{
			Region:    "ap-southeast-1",
			Bucket:    "esp32-firmware-storage",
			Key:       "iot_esp32_ota.bin",
			URLExpiry: 120 * time.Second,
		},
		Dashboard: DashboardConfig{
			SensorEndpoint: "http://localhost:8080/sensor-data",
			OTAEndpoint:    "http://localhost:8080/ota",
			Timeframe:      "1h",
			Output:         "dashboard.html",
			RequestTimeout: 0,
		},
	}
}

// GetDBConnString returns the database connection string
func (c *Config) GetDBConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// GetMQTTBrokerURL returns the MQTT broker URL
func (c *Config) GetMQTTBrokerURL() string {
	brokerURL := c.MQTT.Broker

	// If the URL already has a protocol, use it as is
	for _, scheme := range []string{"tcp://", "ssl://", "ws://", "wss://"} {
		if strings.HasPrefix(brokerURL, scheme) {
			// If there's no port in the URL, add the default port
			if !strings.Contains(brokerURL[len(scheme):], ":") {
				brokerURL = fmt.Sprintf("%s:%d", brokerURL, c.MQTT.Port)
			}
			return brokerURL
		}
	}

	// Handle http:// and https:// protocols by converting to mqtt protocols
	if host, ok := strings.CutPrefix(brokerURL, "http://"); ok {
		return "tcp://" + c.withPort(host)
	}
	if host, ok := strings.CutPrefix(brokerURL, "https://"); ok {
		return "ssl://" + c.withPort(host)
	}

	// If no protocol is specified, use tcp:// with the configured port
	return "tcp://" + c.withPort(brokerURL)
}

func (c *Config) withPort(host string) string {
	if strings.Contains(host, ":") {
		return host
	}
	return fmt.Sprintf("%s:%d", host, c.MQTT.Port)
}

// CommandTopic returns the topic a device listens on for commands
func (c *Config) CommandTopic(deviceID string) string {
	return c.MQTT.CommandTopicPrefix + deviceID
}
