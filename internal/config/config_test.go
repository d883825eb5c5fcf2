package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, 300*time.Second, cfg.PaymentWindow)
	assert.Equal(t, 15*time.Second, cfg.SweepInterval)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PAYMENT_WINDOW", "90s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("DB_DRIVER", "SQLite")

	cfg := Load()

	assert.Equal(t, 90*time.Second, cfg.PaymentWindow)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "sqlite", cfg.DBDriver)
}

func TestSplitCSV(t *testing.T) {
	assert.Empty(t, splitCSV(" , ,"))
	assert.Equal(t, []string{"a", "b"}, splitCSV("a,b"))
}

func TestLoad_BareIntegerDurationsAreSeconds(t *testing.T) {
	t.Setenv("PAYMENT_WINDOW", "300")
	t.Setenv("POLL_INTERVAL", " 5 ")

	cfg := Load()

	assert.Equal(t, 300*time.Second, cfg.PaymentWindow)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
}

func TestLoad_SubSecondDurationsFallBack(t *testing.T) {
	t.Setenv("PAYMENT_WINDOW", "300ms")
	t.Setenv("SWEEP_INTERVAL", "0")

	cfg := Load()

	assert.Equal(t, 300*time.Second, cfg.PaymentWindow)
	assert.Equal(t, 15*time.Second, cfg.SweepInterval)
}
