package queue

import (
	"time"

	"github.com/saraichinwag/data-machine-sub002/internal/models"
)

// ErrNoMessage is returned when no message is visible
var ErrNoMessage = models.ErrNoMessage

// Message is an alias for models.QueueMessage within the queue package
type Message = models.QueueMessage

// envelope is the record stored in Badger around a message
type envelope struct {
	ID           string    `json:"id"`
	Body         Message   `json:"body"`
	ActionKey    string    `json:"action_key"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	VisibleAt    time.Time `json:"visible_at"`
	ReceiveCount int       `json:"receive_count"`
}

// PendingMessage describes a queued message for listings
type PendingMessage struct {
	ID           string    `json:"id"`
	Action       string    `json:"action"`
	Args         string    `json:"args"`
	VisibleAt    time.Time `json:"visible_at"`
	ReceiveCount int       `json:"receive_count"`
}
