package store

import (
	"context"

	"github.com/jackc/pgx/v4"

	"github.com/eocis-portal/data-manager/go/skerr"
	"github.com/eocis-portal/data-manager/go/sklog"
)

// Transaction is a scoped unit of work against the Store. It holds one
// database transaction which must be finished with exactly one of Commit or
// Rollback. Transactions are not safe for concurrent use; concurrent callers
// must each open their own.
type Transaction struct {
	tx pgx.Tx
}

// OpenTransaction starts a new Transaction.
func (s *Store) OpenTransaction(ctx context.Context) (*Transaction, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, skerr.Wrapf(err, "beginning transaction")
	}
	return &Transaction{tx: tx}, nil
}

// Commit commits the transaction.
func (t *Transaction) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return skerr.Wrapf(err, "committing transaction")
	}
	return nil
}

// Rollback aborts the transaction. Safe to call after Commit, in which case
// it is a no-op, so it can be deferred unconditionally.
func (t *Transaction) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && err != pgx.ErrTxClosed {
		return skerr.Wrapf(err, "rolling back transaction")
	}
	return nil
}

// InTransaction runs fn inside a fresh Transaction, committing on a nil
// return and rolling back when fn returns an error or panics.
func (s *Store) InTransaction(ctx context.Context, fn func(t *Transaction) error) (rvErr error) {
	t, err := s.OpenTransaction(ctx)
	if err != nil {
		return skerr.Wrap(err)
	}
	defer func() {
		if err := t.Rollback(ctx); err != nil {
			sklog.Errorf("rollback failed: %s", err)
		}
	}()
	if err := fn(t); err != nil {
		return skerr.Wrap(err)
	}
	return t.Commit(ctx)
}

// CollectRows drains the given rows into a list of column name to value
// mappings. Intended for generic surfaces such as summaries and dumps;
// entity queries scan into their types directly.
func CollectRows(rows pgx.Rows) ([]map[string]interface{}, error) {
	defer rows.Close()
	var rv []map[string]interface{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		row := make(map[string]interface{}, len(values))
		for i, fd := range rows.FieldDescriptions() {
			row[string(fd.Name)] = values[i]
		}
		rv = append(rv, row)
	}
	if err := rows.Err(); err != nil {
		return nil, skerr.Wrap(err)
	}
	return rv, nil
}
