package notifier

import (
	"time"

	"herald/internal/transport"
)

// Config controls the async alert pipeline.
type Config struct {
	Enabled       bool
	Target        transport.Target
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
}
