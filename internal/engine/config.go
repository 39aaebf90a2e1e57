package engine

import (
	"time"

	"github.com/voltbill/chargesync/internal/config"
	"github.com/voltbill/chargesync/internal/lago"
)

// Config controls the sync engine.
type Config struct {
	// BackendPrefix namespaces event idempotency keys per OCPP backend.
	BackendPrefix string
	// MetricCode is the Lago billable metric events are booked against.
	MetricCode string
	// EventBatchSize caps events per batch request; never above the
	// platform limit.
	EventBatchSize int
	// LookbackWindow bounds the recently-completed transaction fetch.
	LookbackWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		BackendPrefix:  "steve",
		MetricCode:     "energy_kwh",
		EventBatchSize: lago.MaxEventsPerBatch,
		LookbackWindow: 24 * time.Hour,
	}
}

// NewConfig maps application configuration onto the engine.
func NewConfig(cfg config.Config) Config {
	return Config{
		BackendPrefix:  cfg.SteveIDPrefix,
		MetricCode:     cfg.LagoMetricCode,
		EventBatchSize: cfg.LagoEventBatchSize,
		LookbackWindow: cfg.SyncLookbackWindow,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.BackendPrefix == "" {
		c.BackendPrefix = defaults.BackendPrefix
	}
	if c.MetricCode == "" {
		c.MetricCode = defaults.MetricCode
	}
	if c.EventBatchSize <= 0 || c.EventBatchSize > lago.MaxEventsPerBatch {
		c.EventBatchSize = defaults.EventBatchSize
	}
	if c.LookbackWindow <= 0 {
		c.LookbackWindow = defaults.LookbackWindow
	}
	return c
}
