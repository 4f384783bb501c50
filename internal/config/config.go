package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type TLS struct {
	Cert              string `mapstructure:"cert"`
	Key               string `mapstructure:"key"`
	CA                string `mapstructure:"ca"`
	RequireClientCert bool   `mapstructure:"require_client_cert"`
}

type Config struct {
	Mode   string `mapstructure:"mode"`
	Scheme string `mapstructure:"scheme"`
	Port   int    `mapstructure:"port"`

	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	SecretHeaderKey string   `mapstructure:"secret_header_key"`

	// RemoveUserAfter is the grace window between a member's last
	// disconnect and its removal; ClearGuestsEvery is the guest sweep
	// interval.
	RemoveUserAfter  time.Duration `mapstructure:"remove_user_after"`
	ClearGuestsEvery time.Duration `mapstructure:"clear_guests_every"`
	StrictJoin       bool          `mapstructure:"strict_join"`

	ReadLimit          int64         `mapstructure:"read_limit"`
	PingPeriod         time.Duration `mapstructure:"ping_period"`
	AdminRatePerMinute int           `mapstructure:"admin_rate_per_minute"`

	TLS TLS `mapstructure:"tls"`
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
	v.SetDefault("scheme", "http")
	v.SetDefault("port", 3000)
	v.SetDefault("secret_header_key", "")
	v.SetDefault("remove_user_after", "10s")
	v.SetDefault("clear_guests_every", "10s")
	v.SetDefault("strict_join", false)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("admin_rate_per_minute", 600)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Scheme != "http" && cfg.Scheme != "https" {
		return nil, fmt.Errorf("unknown scheme %q", cfg.Scheme)
	}
	if cfg.Scheme == "https" && (cfg.TLS.Cert == "" || cfg.TLS.Key == "") {
		return nil, fmt.Errorf("scheme https requires tls.cert and tls.key")
	}
	log.Info().Str("module", "config").Str("scheme", cfg.Scheme).Int("port", cfg.Port).Dur("grace", cfg.RemoveUserAfter).Dur("sweep", cfg.ClearGuestsEvery).Msg("effective settings")
	return &cfg, nil
}
