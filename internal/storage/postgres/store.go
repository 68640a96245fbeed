// Package postgres keeps session values in a postgres table.
//
// Rows are scoped by namespace, so one database may hold sessions of several
// profiles (e.g. different agents or environments).
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nkiryanov/agentmon/internal/apperrors"
)

const defaultNamespace = "default"

var ErrNotMigrated = errors.New("session table not found, migrations are not applied")

type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Store struct {
	db        DBTX
	namespace string

	// Pool is closed with the store if the store owns it
	pool *pgxpool.Pool
}

// New connects, migrates and returns store owning the pool
func New(ctx context.Context, dsn string, namespace string) (*Store, error) {
	pool, err := ConnectAndMigrate(ctx, dsn)
	if err != nil {
		return nil, err
	}

	s := NewWithDB(pool, namespace)
	s.pool = pool
	return s, nil
}

// NewWithDB returns store over existing connection or transaction
func NewWithDB(db DBTX, namespace string) *Store {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &Store{db: db, namespace: namespace}
}

const getValue = `-- name: GetValue
SELECT value
FROM session_kv
WHERE namespace = $1 AND key = $2
`

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	rows, _ := s.db.Query(ctx, getValue, s.namespace, key)
	value, err := pgx.CollectOneRow(rows, pgx.RowTo[string])

	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, pgx.ErrNoRows):
		return "", apperrors.ErrKeyNotFound
	default:
		return "", dbError(err)
	}
}

const setValue = `-- name: SetValue
INSERT INTO session_kv (namespace, key, value, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (namespace, key) DO UPDATE
SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
`

func (s *Store) Set(ctx context.Context, key string, value string) error {
	_, err := s.db.Exec(ctx, setValue, s.namespace, key, value)
	if err != nil {
		return dbError(err)
	}
	return nil
}

const deleteValues = `-- name: DeleteValues
DELETE FROM session_kv
WHERE namespace = $1 AND key = ANY($2)
`

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	_, err := s.db.Exec(ctx, deleteValues, s.namespace, keys)
	if err != nil {
		return dbError(err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func dbError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		return fmt.Errorf("db error: %w", ErrNotMigrated)
	}
	return fmt.Errorf("db error: %w", err)
}
