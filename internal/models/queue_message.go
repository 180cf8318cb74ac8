package models

import (
	"encoding/json"
	"errors"
)

// ErrNoMessage is returned when the queue is empty
var ErrNoMessage = errors.New("no messages in queue")

// QueueMessage is the structure stored in the queue.
// Keep it simple - just enough to route the action.
type QueueMessage struct {
	ID     string          `json:"id"`
	Action string          `json:"action"` // Action name for handler routing
	Args   json.RawMessage `json:"args"`   // Action-specific arguments (passed through)
}

// ActionKey identifies an action+args pair for cancellation
func (m *QueueMessage) ActionKey() string {
	return ActionKey(m.Action, m.Args)
}

// ActionKey builds the key identifying an action+args pair
func ActionKey(action string, args json.RawMessage) string {
	return action + ":" + string(args)
}
