package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode   string `mapstructure:"mode"`
	Port   int    `mapstructure:"port"`
	Secret string `mapstructure:"secret"`

	// Client side.
	RelayURL     string        `mapstructure:"relay_url"`
	MessagingURL string        `mapstructure:"messaging_url"`
	STUNServers  []string      `mapstructure:"stun_servers"`
	RingTimeout  time.Duration `mapstructure:"ring_timeout"`

	// Relay side.
	InviteLimit    int           `mapstructure:"invite_limit"`
	InviteInterval time.Duration `mapstructure:"invite_interval"`
	MaxDrops       int           `mapstructure:"max_drops"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("relay_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("messaging_url", "http://localhost:8081")
	v.SetDefault("stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("ring_timeout", "45s")
	v.SetDefault("invite_limit", 10)
	v.SetDefault("invite_interval", "1m")
	v.SetDefault("max_drops", 8)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
