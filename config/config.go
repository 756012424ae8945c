package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "SOLARMAX"

type Config struct {
	Inverter InverterConfig `mapstructure:"inverter"`
	API      APIConfig      `mapstructure:"api"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type InverterConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Address        int           `mapstructure:"address"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Timeout        time.Duration `mapstructure:"timeout"`
	VerifyChecksum bool          `mapstructure:"verify_checksum"`
}

type APIConfig struct {
	Port      int     `mapstructure:"port"`
	Enabled   bool    `mapstructure:"enabled"`
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	Discovery   bool   `mapstructure:"discovery"`
}

type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("inverter.host", "192.168.1.21")
	v.SetDefault("inverter.port", 12345)
	v.SetDefault("inverter.address", 1)
	v.SetDefault("inverter.connect_timeout", "3s")
	v.SetDefault("inverter.timeout", "5s")
	v.SetDefault("inverter.verify_checksum", false)
	v.SetDefault("api.port", 8046)
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.rate_limit", 2)
	v.SetDefault("api.burst", 4)
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic_prefix", "solarmax")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.discovery", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.max_size", 10)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age", 28)
	v.SetDefault("logging.file.compress", false)
}

// Load reads configuration from configPath, or from config.yaml in the
// working directory or /etc/solarmax-monitor when configPath is empty.
// A .env file in the working directory is loaded first; SOLARMAX_* variables
// override file values (SOLARMAX_INVERTER_HOST, ...).
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/solarmax-monitor")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Inverter.Host == "" {
		return errors.New("inverter.host is required")
	}
	if c.Inverter.Port <= 0 || c.Inverter.Port > 65535 {
		return fmt.Errorf("inverter.port out of range: %d", c.Inverter.Port)
	}
	if c.Inverter.Address < 0 || c.Inverter.Address > 0xFF {
		return fmt.Errorf("inverter.address must fit in one byte: %d", c.Inverter.Address)
	}
	if c.Inverter.ConnectTimeout <= 0 || c.Inverter.Timeout <= 0 {
		return errors.New("inverter timeouts must be positive")
	}
	return nil
}
