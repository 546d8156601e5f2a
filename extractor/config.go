package extractor

import "time"

// Config holds the orchestrator tunables. It is loaded from EXTRACTOR_*
// environment variables by the runner.
type Config struct {
	CheckpointsEnabled   bool          `envconfig:"CHECKPOINTS_ENABLED" default:"true"`
	RefundOnEmptyFailure bool          `envconfig:"REFUND_ON_EMPTY_FAILURE" default:"false"`
	JobTimeout           time.Duration `envconfig:"JOB_TIMEOUT" default:"2h"`
	EventBuffer          int           `envconfig:"EVENT_BUFFER" default:"64"`
	HistoryLimit         int           `envconfig:"HISTORY_LIMIT" default:"50"`
}

func (c *Config) setDefaults() {
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}

	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 50
	}
}
