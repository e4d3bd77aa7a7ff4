package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode          string        `mapstructure:"mode" validate:"oneof=debug release test"`
	Port          int           `mapstructure:"port" validate:"gte=0,lte=65535"`
	StaticPath    string        `mapstructure:"static_path"`
	ReadLimit     int64         `mapstructure:"read_limit" validate:"gt=0"`
	PingPeriod    time.Duration `mapstructure:"ping_period" validate:"gt=0"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	SendBuffer    int           `mapstructure:"send_buffer" validate:"gt=0"`
	MaxPlayers    int           `mapstructure:"max_players" validate:"gt=0"`
	StaleTimeout  time.Duration `mapstructure:"stale_timeout" validate:"gt=0"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	RateLimit     int           `mapstructure:"rate_limit" validate:"gte=0"`
	Backpressure  string        `mapstructure:"backpressure" validate:"oneof=drop kick"`
	Metrics       bool          `mapstructure:"metrics"`
	Client        Client        `mapstructure:"client"`
}

// Client holds the tuning shared by every client of the relay.
type Client struct {
	PublishRate    float64       `mapstructure:"publish_rate" validate:"gt=0"`
	InterpDelay    time.Duration `mapstructure:"interp_delay" validate:"gte=0"`
	BufferDepth    int           `mapstructure:"buffer_depth" validate:"gt=1"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" validate:"gt=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 3000)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("max_players", 8)
	v.SetDefault("stale_timeout", "15s")
	v.SetDefault("sweep_interval", "10s")
	v.SetDefault("rate_limit", 60)
	v.SetDefault("backpressure", "drop")
	v.SetDefault("metrics", true)

	v.SetDefault("client.publish_rate", 20)
	v.SetDefault("client.interp_delay", "100ms")
	v.SetDefault("client.buffer_depth", 30)
	v.SetDefault("client.reconnect_delay", "2s")
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &cfg
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default) over the
// defaults. LOGOTOPIA_* variables override both; PORT is honoured too.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("logotopia")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	if port := os.Getenv("PORT"); port != "" && os.Getenv("LOGOTOPIA_PORT") == "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		v.Set("port", p)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Int("max_players", cfg.MaxPlayers).Msg("config ready")
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.SweepInterval > c.StaleTimeout {
		return fmt.Errorf("invalid config: sweep_interval %s exceeds stale_timeout %s", c.SweepInterval, c.StaleTimeout)
	}
	return nil
}
