package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(InventoryService)
	require.NoError(t, err)

	assert.Equal(t, TransportKafka, cfg.Transport)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Contains(t, cfg.DatabaseDSN, "/inventory?")
	assert.True(t, cfg.RunMigrations)
	assert.Equal(t, 10*time.Second, cfg.JoinWindow)
	assert.Zero(t, cfg.StuckOrderTimeout)
	assert.Equal(t, Retry{
		InitialInterval: 500 * time.Millisecond,
		Multiplier:      2,
		MaxInterval:     10 * time.Second,
		MaxAttempts:     4,
	}, cfg.Retry)
	assert.Equal(t, 8, cfg.ConflictMaxRetries)
	assert.False(t, cfg.TelemetryEnabled())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TRANSPORT", "MEMORY")
	t.Setenv("STORE", "memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("RUN_MIGRATIONS", "no")
	t.Setenv("JOIN_WINDOW", "3s")
	t.Setenv("STUCK_ORDER_TIMEOUT", "1m")
	t.Setenv("RETRY_MAX_ATTEMPTS", "6")
	t.Setenv("RETRY_MULTIPLIER", "1.5")
	t.Setenv("OTEL_ENDPOINT", "otel:4318")

	cfg, err := Load(OrderService)
	require.NoError(t, err)

	assert.Equal(t, TransportMemory, cfg.Transport)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.False(t, cfg.RunMigrations)
	assert.Equal(t, 3*time.Second, cfg.JoinWindow)
	assert.Equal(t, time.Minute, cfg.StuckOrderTimeout)
	assert.Equal(t, 6, cfg.Retry.MaxAttempts)
	assert.Equal(t, 1.5, cfg.Retry.Multiplier)
	assert.True(t, cfg.TelemetryEnabled())
}

func TestLoadRejects(t *testing.T) {
	tests := map[string]map[string]string{
		"bad duration":     {"JOIN_WINDOW": "soon"},
		"zero window":      {"JOIN_WINDOW": "0s"},
		"bad int":          {"CONFLICT_MAX_RETRIES": "many"},
		"bad transport":    {"TRANSPORT": "carrier-pigeon"},
		"bad store":        {"STORE": "floppy"},
		"no attempts":      {"RETRY_MAX_ATTEMPTS": "0"},
		"shrinking retry":  {"RETRY_MULTIPLIER": "0.5"},
		"negative timeout": {"STUCK_ORDER_TIMEOUT": "-1s"},
		"inverted retry":   {"RETRY_INITIAL_INTERVAL": "20s", "RETRY_MAX_INTERVAL": "1s"},
	}

	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range vars {
				t.Setenv(k, v)
			}
			_, err := Load(PaymentService)
			assert.Error(t, err)
		})
	}
}

func TestLoadUnknownService(t *testing.T) {
	_, err := Load("cart-service")
	assert.ErrorContains(t, err, "unknown service")
}
