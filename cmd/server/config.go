package main

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// appConfig holds the process-level settings; transport and broadcast
// settings live in server.Config.
type appConfig struct {
	BadgerPath       string        `env:"BADGER_PATH,default=data/chat"`
	BadgerInMemory   bool          `env:"BADGER_IN_MEMORY,default=false"`
	LogLevel         string        `env:"LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`
	RetentionSweepAt string        `env:"RETENTION_SWEEP_AT,default=01:00" validate:"required"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s" validate:"gt=0"`
	RestartInterval  time.Duration `env:"RESTART_INTERVAL,default=1s"`
}

// loadDotEnv seeds the environment from a .env file when one exists.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func loadAppConfig() (appConfig, error) {
	var cfg appConfig
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return appConfig{}, fmt.Errorf("config error: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return appConfig{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
