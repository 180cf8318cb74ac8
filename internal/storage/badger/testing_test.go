package badger

import (
	"path/filepath"
	"testing"

	"github.com/saraichinwag/data-machine-sub002/internal/common"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

// newTestDB opens a Badger database in a per-test temp directory
func newTestDB(t *testing.T) *BadgerDB {
	t.Helper()

	db, err := NewBadgerDB(arbor.NewLogger(), &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}
