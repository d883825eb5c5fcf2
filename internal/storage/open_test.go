package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/campus-marketplace/internal/config"
)

func TestOpen_SQLite(t *testing.T) {
	cfg := config.Config{DBDriver: "sqlite", SQLiteDSN: filepath.Join(t.TempDir(), "m.db")}

	db, closeFn, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer closeFn()

	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM orders`))
	assert.Zero(t, n)

	// migrating twice is harmless
	db2, close2, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	close2()
	_ = db2
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, _, err := Open(context.Background(), config.Config{DBDriver: "mysql"})
	assert.ErrorContains(t, err, "unknown DB_DRIVER")
}
