package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/eocis-portal/data-manager/go/store"
	"github.com/eocis-portal/data-manager/go/store/storetest"
	"github.com/eocis-portal/data-manager/go/testutils/unittest"
)

func TestEncodeDecodeDateTime(t *testing.T) {
	unittest.SmallTest(t)

	ts := time.Date(2024, time.March, 5, 10, 30, 59, 0, time.UTC)
	encoded := store.EncodeDateTime(ts)
	require.Equal(t, "2024/03/05 10:30:59", encoded)
	decoded, err := store.DecodeDateTime(encoded)
	require.NoError(t, err)
	require.Equal(t, ts, decoded)

	// The zone is stripped before encoding.
	inParis := ts.In(time.FixedZone("CET", 3600))
	require.Equal(t, encoded, store.EncodeDateTime(inParis))

	// The zero time round-trips through the empty string.
	require.Equal(t, "", store.EncodeDateTime(time.Time{}))
	decoded, err = store.DecodeDateTime("")
	require.NoError(t, err)
	require.True(t, decoded.IsZero())

	_, err = store.DecodeDateTime("not a timestamp")
	require.Error(t, err)
}

func TestEncodeDecodeDate(t *testing.T) {
	unittest.SmallTest(t)

	d := time.Date(1981, time.September, 1, 0, 0, 0, 0, time.UTC)
	encoded := store.EncodeDate(d)
	require.Equal(t, "1981/09/01", encoded)
	decoded, err := store.DecodeDate(encoded)
	require.NoError(t, err)
	require.Equal(t, d, decoded)

	require.Equal(t, "", store.EncodeDate(time.Time{}))
	decoded, err = store.DecodeDate("")
	require.NoError(t, err)
	require.True(t, decoded.IsZero())

	_, err = store.DecodeDate("01-09-1981")
	require.Error(t, err)
}

func TestRenderValueList(t *testing.T) {
	unittest.SmallTest(t)

	require.Equal(t, "'NEW','RUNNING'", store.RenderValueList([]string{"NEW", "RUNNING"}))
	require.Equal(t, "'NEW'", store.RenderValueList([]string{"NEW"}))
	require.Equal(t, "", store.RenderValueList(nil))
}

func TestOpenStoreIsIdempotent(t *testing.T) {
	unittest.RequiresPostgresDB(t)

	ctx := context.Background()
	url := storetest.CreateDatabase(t)
	st, err := store.New(ctx, url)
	require.NoError(t, err)
	st.Close()

	// Reopening an existing database succeeds and keeps the metadata row
	// unique.
	st, err = store.New(ctx, url)
	require.NoError(t, err)
	st.Close()
}

func TestSchemaVersionGate(t *testing.T) {
	unittest.RequiresPostgresDB(t)

	ctx := context.Background()
	url := storetest.CreateDatabase(t)
	st, err := store.New(ctx, url)
	require.NoError(t, err)
	st.Close()

	db, err := pgxpool.Connect(ctx, url)
	require.NoError(t, err)
	defer db.Close()

	// A database written by a different software version must not open.
	_, err = db.Exec(ctx, "UPDATE metadata SET schema='V0'")
	require.NoError(t, err)
	_, err = store.New(ctx, url)
	require.ErrorIs(t, err, store.ErrSchemaVersion)

	// A duplicated metadata row indicates corruption and must not open.
	_, err = db.Exec(ctx, "UPDATE metadata SET schema='V1'")
	require.NoError(t, err)
	_, err = db.Exec(ctx, "INSERT INTO metadata (schema, creation_date) VALUES ('V1', '2024/01/01')")
	require.NoError(t, err)
	_, err = store.New(ctx, url)
	require.ErrorIs(t, err, store.ErrSchemaVersion)
}
