// Package storetest provides stores backed by a local PostgreSQL instance
// for use in tests.
package storetest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/eocis-portal/data-manager/go/store"
	"github.com/eocis-portal/data-manager/go/testutils/unittest"
)

// ConnectionURL builds the connection URL for the given database on the
// test PostgreSQL instance.
func ConnectionURL(host, database string) string {
	return fmt.Sprintf("postgresql://postgres@%s/%s?sslmode=disable", host, database)
}

// CreateDatabase creates a fresh, randomly named database on the test
// PostgreSQL instance and returns its connection URL. A fresh database per
// test keeps concurrently running test packages from interfering.
func CreateDatabase(t *testing.T) string {
	unittest.RequiresPostgresDB(t)
	ctx := context.Background()
	host := unittest.PostgresHost()
	admin, err := pgxpool.Connect(ctx, ConnectionURL(host, "postgres"))
	require.NoError(t, err)
	defer admin.Close()
	database := "datamanager_test_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	_, err = admin.Exec(ctx, "CREATE DATABASE "+database)
	require.NoError(t, err)
	return ConnectionURL(host, database)
}

// NewStore returns a Store on a fresh database, closed when the test ends.
func NewStore(t *testing.T) *store.Store {
	st, err := store.New(context.Background(), CreateDatabase(t))
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}
