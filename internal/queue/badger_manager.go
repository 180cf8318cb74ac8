package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// BadgerManager implements a persistent, delay-capable queue on BadgerDB.
//
// Keys:
//
//	queue:{name}:msg:{id}                 -> envelope JSON
//	queue:{name}:index:{visibleAt}:{id}   -> empty, ordered by visibility
type BadgerManager struct {
	db                *badger.DB
	queueName         string
	visibilityTimeout time.Duration
	maxReceive        int
}

// NewBadgerManager creates a new Badger-backed queue manager
func NewBadgerManager(db *badger.DB, queueName string, visibilityTimeout time.Duration, maxReceive int) (*BadgerManager, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if queueName == "" {
		return nil, errors.New("queue name is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	if maxReceive <= 0 {
		maxReceive = 3
	}

	return &BadgerManager{
		db:                db,
		queueName:         queueName,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
	}, nil
}

// Enqueue adds a message that becomes visible after delay and returns its id
func (m *BadgerManager) Enqueue(ctx context.Context, msg Message, delay time.Duration) (string, error) {
	if msg.Action == "" {
		return "", errors.New("message action is required")
	}
	if delay < 0 {
		delay = 0
	}

	id := uuid.New().String()
	msg.ID = id
	now := time.Now()

	env := envelope{
		ID:         id,
		Body:       msg,
		ActionKey:  msg.ActionKey(),
		EnqueuedAt: now,
		VisibleAt:  now.Add(delay),
	}

	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal queue message: %w", err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(m.msgKey(id), data); err != nil {
			return err
		}
		return txn.Set(m.indexKey(env.VisibleAt, id), []byte{})
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %w", msg.Action, err)
	}
	return id, nil
}

// Receive claims the next visible message, hiding it for the visibility timeout.
// The returned function deletes the message once it has been handled.
func (m *BadgerManager) Receive(ctx context.Context) (*Message, func() error, error) {
	var claimed envelope
	found := false

	err := m.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := m.indexPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		found = false

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			ts, id, err := m.parseIndexKey(key)
			if err != nil {
				continue
			}

			// Index is ordered by visibility; nothing past this point is ready
			if ts.After(now) {
				break
			}

			env, err := m.load(txn, id)
			if errors.Is(err, badger.ErrKeyNotFound) {
				if err := txn.Delete(key); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}

			// Poison message: drop it rather than loop forever
			if env.ReceiveCount >= m.maxReceive {
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Delete(m.msgKey(id)); err != nil {
					return err
				}
				continue
			}

			if err := txn.Delete(key); err != nil {
				return err
			}
			claimed = *env
			found = true
			break
		}

		// Commit stale index and poison deletions even when nothing is claimed
		if !found {
			return nil
		}

		claimed.ReceiveCount++
		claimed.VisibleAt = now.Add(m.visibilityTimeout)
		return m.save(txn, &claimed)
	})
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, ErrNoMessage
	}

	msgID := claimed.ID
	deleteFn := func() error {
		return m.db.Update(func(txn *badger.Txn) error {
			return m.remove(txn, msgID)
		})
	}

	body := claimed.Body
	return &body, deleteFn, nil
}

// Extend pushes back the visibility of a received message
func (m *BadgerManager) Extend(ctx context.Context, messageID string, duration time.Duration) error {
	return m.db.Update(func(txn *badger.Txn) error {
		env, err := m.load(txn, messageID)
		if err != nil {
			return err
		}
		if err := txn.Delete(m.indexKey(env.VisibleAt, messageID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		env.VisibleAt = time.Now().Add(duration)
		return m.save(txn, env)
	})
}

// Delete removes a message by id. Deleting a missing message is not an error.
func (m *BadgerManager) Delete(ctx context.Context, messageID string) error {
	return m.db.Update(func(txn *badger.Txn) error {
		return m.remove(txn, messageID)
	})
}

// DeleteByActionKey removes every pending message for the action+args pair
func (m *BadgerManager) DeleteByActionKey(ctx context.Context, actionKey string) (int, error) {
	deleted := 0
	err := m.db.Update(func(txn *badger.Txn) error {
		deleted = 0
		envs, err := m.scan(txn)
		if err != nil {
			return err
		}
		for _, env := range envs {
			if env.ActionKey != actionKey {
				continue
			}
			if err := m.remove(txn, env.ID); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete queued %s: %w", actionKey, err)
	}
	return deleted, nil
}

// List returns the queued messages ordered by visibility time
func (m *BadgerManager) List(ctx context.Context) ([]PendingMessage, error) {
	var pending []PendingMessage
	err := m.db.View(func(txn *badger.Txn) error {
		envs, err := m.scan(txn)
		if err != nil {
			return err
		}
		for _, env := range envs {
			pending = append(pending, PendingMessage{
				ID:           env.ID,
				Action:       env.Body.Action,
				Args:         string(env.Body.Args),
				VisibleAt:    env.VisibleAt,
				ReceiveCount: env.ReceiveCount,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].VisibleAt.Before(pending[j].VisibleAt)
	})
	return pending, nil
}

// Close is a no-op; the database is owned by the storage manager
func (m *BadgerManager) Close() error {
	return nil
}

// Helpers

func (m *BadgerManager) load(txn *badger.Txn, id string) (*envelope, error) {
	item, err := txn.Get(m.msgKey(id))
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &env)
	}); err != nil {
		return nil, err
	}
	return &env, nil
}

func (m *BadgerManager) save(txn *badger.Txn, env *envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := txn.Set(m.msgKey(env.ID), data); err != nil {
		return err
	}
	return txn.Set(m.indexKey(env.VisibleAt, env.ID), []byte{})
}

func (m *BadgerManager) remove(txn *badger.Txn, id string) error {
	env, err := m.load(txn, id)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := txn.Delete(m.indexKey(env.VisibleAt, id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return txn.Delete(m.msgKey(id))
}

func (m *BadgerManager) scan(txn *badger.Txn) ([]envelope, error) {
	prefix := []byte(fmt.Sprintf("queue:%s:msg:", m.queueName))
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	var envs []envelope
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var env envelope
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &env)
		}); err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, nil
}

func (m *BadgerManager) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", m.queueName, id))
}

func (m *BadgerManager) indexPrefix() []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", m.queueName))
}

func (m *BadgerManager) indexKey(visibleAt time.Time, id string) []byte {
	// Zero pad so lexical order matches numeric order
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", m.queueName, visibleAt.UnixNano(), id))
}

func (m *BadgerManager) parseIndexKey(key []byte) (time.Time, string, error) {
	prefix := m.indexPrefix()
	if len(key) <= len(prefix) {
		return time.Time{}, "", fmt.Errorf("invalid key length")
	}

	// Suffix is "{20-digit-ts}:{id}"
	suffix := string(key[len(prefix):])
	if len(suffix) < 21 {
		return time.Time{}, "", fmt.Errorf("invalid suffix length")
	}

	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, ts), suffix[21:], nil
}
