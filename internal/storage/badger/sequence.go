package badger

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

// Sequence is a named monotonic counter used for numeric identifiers
type Sequence struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// nextID increments the named sequence inside txn and returns the new value
func (b *BadgerDB) nextID(txn *badger.Txn, name string) (int64, error) {
	var seq Sequence
	if err := b.store.TxGet(txn, name, &seq); err != nil {
		if !errors.Is(err, badgerhold.ErrNotFound) {
			return 0, fmt.Errorf("failed to read sequence %s: %w", name, err)
		}
		seq = Sequence{Name: name}
	}

	seq.Value++
	if err := b.store.TxUpsert(txn, name, &seq); err != nil {
		return 0, fmt.Errorf("failed to advance sequence %s: %w", name, err)
	}
	return seq.Value, nil
}
