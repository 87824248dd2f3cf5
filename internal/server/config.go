// Package server provides configuration helpers that define runtime defaults,
// validation, and per-connection limits for the chat relay.
package server

import (
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

const (
	defaultPort                    = ":8080"
	defaultAllowedOrigins          = "http://localhost:8080"
	defaultMaxMessageSize          = 4 << 20
	defaultRateLimitBurst          = 0
	defaultRateLimitRefillInterval = time.Second
	defaultSendQueueSize           = 256
	defaultHistoryLimit            = 30
	defaultPongWait                = 60 * time.Second
	defaultWriteWait               = 10 * time.Second
)

// Config holds the transport and broadcast settings of the relay.
//
// AllowedOrigins is a comma separated list of browser origins allowed to open
// a websocket; "*" allows any origin. RateLimitBurst of zero disables the
// per-connection rate limit.
type Config struct {
	Port                    string        `env:"SERVER_PORT,default=:8080" validate:"required"`
	AllowedOrigins          string        `env:"ALLOWED_ORIGINS,default=http://localhost:8080"`
	MaxMessageSize          int           `env:"MAX_MESSAGE_SIZE,default=4194304"`
	RateLimitBurst          int           `env:"RATE_LIMIT_BURST,default=0"`
	RateLimitRefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL,default=1s"`
	SendQueueSize           int           `env:"SEND_QUEUE_SIZE,default=256"`
	HistoryLimit            int           `env:"HISTORY_LIMIT,default=30"`
	PongWait                time.Duration `env:"PONG_WAIT,default=60s"`
	WriteWait               time.Duration `env:"WRITE_WAIT,default=10s"`
}

var configValidator = validator.New()

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	return &Config{
		Port:                    defaultPort,
		AllowedOrigins:          defaultAllowedOrigins,
		MaxMessageSize:          defaultMaxMessageSize,
		RateLimitBurst:          defaultRateLimitBurst,
		RateLimitRefillInterval: defaultRateLimitRefillInterval,
		SendQueueSize:           defaultSendQueueSize,
		HistoryLimit:            defaultHistoryLimit,
		PongWait:                defaultPongWait,
		WriteWait:               defaultWriteWait,
	}
}

// LoadConfig reads the configuration from environment variables, falling back
// to defaults for anything unset or out of range.
func LoadConfig() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("read server config: %w", err)
	}
	cfg = cfg.sanitize()
	if err := configValidator.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	return &cfg, nil
}

func (c Config) sanitize() Config {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	if c.RateLimitBurst < 0 {
		c.RateLimitBurst = defaultRateLimitBurst
	}
	if c.RateLimitRefillInterval <= 0 {
		c.RateLimitRefillInterval = defaultRateLimitRefillInterval
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = defaultSendQueueSize
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = defaultHistoryLimit
	}
	// A full history replay must fit the queue before the writer drains it.
	if c.SendQueueSize < c.HistoryLimit {
		c.SendQueueSize = c.HistoryLimit
	}
	if c.PongWait < 0 {
		c.PongWait = defaultPongWait
	}
	if c.WriteWait <= 0 {
		c.WriteWait = defaultWriteWait
	}
	return c
}

// Origins splits AllowedOrigins into trimmed, non-empty entries.
func (c Config) Origins() []string {
	parts := strings.Split(c.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// pingPeriod is how often the writer pings; zero disables keepalive.
func (c Config) pingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}
