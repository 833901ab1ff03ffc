package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, OrderStorePostgres, cfg.OrderStore)
	assert.Equal(t, 300*time.Second, cfg.ReservationTTL)
	assert.Equal(t, 500*time.Millisecond, cfg.StoreTimeout)
	assert.Equal(t, 5, cfg.BreakerThreshold)
	assert.Equal(t, 48*time.Hour, cfg.ReservationStateTTL)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ORDER_STORE", "dynamodb")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("RESERVATION_TTL", "90s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, OrderStoreDynamoDB, cfg.OrderStore)
	assert.Equal(t, 90*time.Second, cfg.ReservationTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"node id out of range", "NODE_ID", "1024"},
		{"unknown order store", "ORDER_STORE", "mysql"},
		{"zero refill", "RATE_LIMIT_REFILL", "0"},
		{"zero reclaim batch", "RECLAIM_BATCH", "0"},
		{"no brokers", "KAFKA_BROKERS", " , "},
		{"unparseable duration", "STORE_TIMEOUT", "soon"},
		{"state ttl within reservation ttl", "RESERVATION_STATE_TTL", "300s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
