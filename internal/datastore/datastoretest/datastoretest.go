// Package datastoretest provides an in-memory database for tests of
// packages that sit above the datastore.
package datastoretest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/errintake/internal/datastore"
	"github.com/tphakala/errintake/internal/logger"
)

// NewManager returns a migrated Manager over a private in-memory sqlite
// database. The database is closed when the test ends.
func NewManager(t *testing.T) *datastore.Manager {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	mgr, err := datastore.NewManager(datastore.Config{DSN: dsn}, logger.NewNop())
	require.NoError(t, err, "failed to open in-memory database")
	t.Cleanup(func() { _ = mgr.Close() })

	require.NoError(t, mgr.Migrate(t.Context()), "failed to migrate schema")
	return mgr
}
