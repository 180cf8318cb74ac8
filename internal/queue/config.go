package queue

import (
	"time"

	"github.com/saraichinwag/data-machine-sub002/internal/common"
)

// Config holds configuration for the queue and its worker pool
type Config struct {
	// PollInterval is how often workers poll for messages
	PollInterval time.Duration

	// Concurrency is the number of concurrent workers
	Concurrency int

	// VisibilityTimeout is how long a received message stays hidden before redelivery
	VisibilityTimeout time.Duration

	// MaxReceive is the maximum times a message can be received before it is dropped
	MaxReceive int

	// QueueName prefixes the queue's keys in Badger
	QueueName string
}

// NewDefaultConfig creates a queue configuration with sensible defaults
func NewDefaultConfig() Config {
	return Config{
		PollInterval:      1 * time.Second,
		Concurrency:       4,
		VisibilityTimeout: 15 * time.Minute,
		MaxReceive:        3,
		QueueName:         "datamachine_actions",
	}
}

// ConfigFromCommon converts the [queue] section of the application config
func ConfigFromCommon(qc common.QueueConfig) Config {
	defaults := NewDefaultConfig()
	config := Config{
		PollInterval:      common.ParseDuration(qc.PollInterval, defaults.PollInterval),
		Concurrency:       qc.Concurrency,
		VisibilityTimeout: common.ParseDuration(qc.VisibilityTimeout, defaults.VisibilityTimeout),
		MaxReceive:        qc.MaxReceive,
		QueueName:         qc.QueueName,
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.MaxReceive <= 0 {
		config.MaxReceive = defaults.MaxReceive
	}
	if config.QueueName == "" {
		config.QueueName = defaults.QueueName
	}
	return config
}
