package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	req := require.New(t)

	cfg, err := LoadConfig()
	req.NoError(err)
	req.Equal(NewConfig(), cfg)
	req.Equal(4<<20, cfg.MaxMessageSize)
	req.Zero(cfg.RateLimitBurst, "rate limiting is opt-in")
	req.Equal([]string{"http://localhost:8080"}, cfg.Origins())
	req.Equal(54*time.Second, cfg.pingPeriod())
}

func TestLoadConfig_From_Environment(t *testing.T) {
	req := require.New(t)
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, https://b.example ,")
	t.Setenv("MAX_MESSAGE_SIZE", "1024")
	t.Setenv("RATE_LIMIT_BURST", "10")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2s")
	t.Setenv("SEND_QUEUE_SIZE", "64")
	t.Setenv("HISTORY_LIMIT", "20")
	t.Setenv("PONG_WAIT", "30s")
	t.Setenv("WRITE_WAIT", "5s")

	cfg, err := LoadConfig()
	req.NoError(err)
	req.Equal(":9090", cfg.Port)
	req.Equal([]string{"http://a.example", "https://b.example"}, cfg.Origins())
	req.Equal(1024, cfg.MaxMessageSize)
	req.Equal(10, cfg.RateLimitBurst)
	req.Equal(2*time.Second, cfg.RateLimitRefillInterval)
	req.Equal(64, cfg.SendQueueSize)
	req.Equal(20, cfg.HistoryLimit)
	req.Equal(30*time.Second, cfg.PongWait)
	req.Equal(5*time.Second, cfg.WriteWait)
}

func TestLoadConfig_Rejects_Malformed_Values(t *testing.T) {
	t.Setenv("MAX_MESSAGE_SIZE", "lots")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestConfig_Sanitize(t *testing.T) {
	req := require.New(t)

	cfg := Config{
		MaxMessageSize: -1,
		RateLimitBurst: -3,
		SendQueueSize:  5,
		HistoryLimit:   30,
		PongWait:       -time.Second,
	}.sanitize()

	req.Equal(defaultPort, cfg.Port)
	req.Equal(defaultMaxMessageSize, cfg.MaxMessageSize)
	req.Equal(defaultRateLimitBurst, cfg.RateLimitBurst)
	req.Equal(defaultRateLimitRefillInterval, cfg.RateLimitRefillInterval)
	req.Equal(30, cfg.SendQueueSize, "queue must hold a full history replay")
	req.Equal(defaultPongWait, cfg.PongWait)
	req.Equal(defaultWriteWait, cfg.WriteWait)
}

func TestConfig_Zero_RateLimitBurst_Stays_Disabled(t *testing.T) {
	cfg := NewConfig().sanitize()
	cfg.RateLimitBurst = 0
	require.Zero(t, cfg.sanitize().RateLimitBurst)
}

func TestConfig_Zero_PongWait_Disables_Keepalive(t *testing.T) {
	cfg := NewConfig().sanitize()
	cfg.PongWait = 0
	require.Zero(t, cfg.sanitize().pingPeriod())
}
