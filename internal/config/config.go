// Package config loads the gateway configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

// Config is the server configuration.
type Config struct {
	Port      int    `env:"PORT,default=8080" validate:"gt=0,lte=65535"`
	LogLevel  string `env:"LOG_LEVEL,default=info" validate:"oneof=trace debug info warn error"`
	LogFormat string `env:"LOG_FORMAT,default=console" validate:"oneof=console json"`

	StoreDriver   string        `env:"STORE_DRIVER,default=sqlite" validate:"oneof=sqlite badger"`
	DBPath        string        `env:"DB_PATH,default=data/connections.db" validate:"required_if=StoreDriver sqlite"`
	BadgerPath    string        `env:"BADGER_PATH,default=data/badger" validate:"required_if=StoreDriver badger"`
	DefaultRoom   string        `env:"DEFAULT_ROOM,default=global" validate:"required"`
	ConnectionTTL time.Duration `env:"CONNECTION_TTL,default=2h" validate:"gt=0"`
	PurgeSchedule string        `env:"PURGE_SCHEDULE,default=@every 10m" validate:"required"`

	MessageRate    float64 `env:"MESSAGE_RATE,default=10" validate:"gte=0"`
	MessageBurst   int     `env:"MESSAGE_BURST,default=20" validate:"gt=0"`
	SendBufferSize int     `env:"SEND_BUFFER_SIZE,default=256" validate:"gt=0"`
	MaxMessageSize int64   `env:"MAX_MESSAGE_SIZE,default=8192" validate:"gt=0"`
	AllowedOrigin  string  `env:"ALLOWED_ORIGIN,default=*"`
}

var validate = validator.New()

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment take precedence over the file.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load env file: %w", err)
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	return cfg, cfg.Validate()
}

// FromEnvSet builds a Config from an explicit set of variables.
func FromEnvSet(es env.EnvSet) (Config, error) {
	var cfg Config
	if err := env.Unmarshal(es, &cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects unknown drivers and out-of-range values.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	fields := lo.Map(verrs, func(fe validator.FieldError, _ int) string {
		return fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag())
	})
	return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
