package scheduler

import (
	"github.com/voltbill/chargesync/internal/config"
)

// Config controls when sync runs are triggered.
type Config struct {
	CronSpec       string
	RunOnStart     bool
	TriggerChannel string
}

func DefaultConfig() Config {
	return Config{
		CronSpec:       "*/5 * * * *",
		TriggerChannel: "chargesync:trigger",
	}
}

func NewConfig(cfg config.Config) Config {
	return Config{
		CronSpec:       cfg.SyncCron,
		RunOnStart:     cfg.SyncRunOnStart,
		TriggerChannel: cfg.TriggerChannel,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.CronSpec == "" {
		c.CronSpec = defaults.CronSpec
	}
	if c.TriggerChannel == "" {
		c.TriggerChannel = defaults.TriggerChannel
	}
	return c
}
