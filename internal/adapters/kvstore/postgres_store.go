package kvstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/lib/pq"
	"github.com/zatekoja/concussionrehab/internal/domain/providers"
	"github.com/zatekoja/concussionrehab/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/concussionrehab/pkg/errors"
)

// PostgresStore implements KeyValueStore and AtomicUpdater on a single
// key/JSONB table.
type PostgresStore struct {
	client *postgres.Client
	db     *goqu.Database
	table  string
}

// NewPostgresStore creates a new Postgres-backed key-value store
func NewPostgresStore(client *postgres.Client, table string) *PostgresStore {
	if table == "" {
		table = "kv_store"
	}
	return &PostgresStore{
		client: client,
		db:     goqu.New("postgres", client.DB()),
		table:  table,
	}
}

// EnsureSchema creates the backing table when it does not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			value JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, pq.QuoteIdentifier(s.table))
	if _, err := s.client.DB().ExecContext(ctx, ddl); err != nil {
		return apperrors.NewStoreUnavailableError("failed to create key-value table", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Get retrieves a value by key
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.get(ctx, s.client.DB(), key)
}

func (s *PostgresStore) get(ctx context.Context, q queryer, key string) ([]byte, bool, error) {
	query, args, err := s.db.From(s.table).
		Select("value").
		Where(goqu.Ex{"key": key}).
		ToSQL()
	if err != nil {
		return nil, false, apperrors.NewInternalError("failed to build query", err)
	}

	var value []byte
	err = q.QueryRowContext(ctx, query, args...).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.NewStoreUnavailableError("failed to get key from postgres", err)
	}
	return value, true, nil
}

// Set upserts value under key
func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	return s.set(ctx, s.client.DB(), key, value)
}

func (s *PostgresStore) set(ctx context.Context, q queryer, key string, value []byte) error {
	query, args, err := s.db.Insert(s.table).
		Rows(goqu.Record{
			"key":        key,
			"value":      string(value),
			"updated_at": time.Now().UTC(),
		}).
		OnConflict(goqu.DoUpdate("key", goqu.Record{
			"value":      goqu.L("EXCLUDED.value"),
			"updated_at": goqu.L("EXCLUDED.updated_at"),
		})).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build upsert query", err)
	}

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewStoreUnavailableError("failed to set key in postgres", err)
	}
	return nil
}

// GetByPrefix returns all rows whose key starts with prefix, ordered by key
func (s *PostgresStore) GetByPrefix(ctx context.Context, prefix string) ([]providers.KeyValue, error) {
	// starts_with avoids LIKE treating "_" in our key names as a wildcard
	query, args, err := s.db.From(s.table).
		Select("key", "value").
		Where(goqu.L("starts_with(?, ?)", goqu.C("key"), prefix)).
		Order(goqu.C("key").Asc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build prefix query", err)
	}

	rows, err := s.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError("failed to query keys by prefix", err)
	}
	defer rows.Close()

	var out []providers.KeyValue
	for rows.Next() {
		var kv providers.KeyValue
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, apperrors.NewStoreUnavailableError("failed to scan key-value row", err)
		}
		out = append(out, kv)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreUnavailableError("failed to iterate key-value rows", err)
	}
	return out, nil
}

// Update serializes writers of key with a transaction-scoped advisory lock
func (s *PostgresStore) Update(ctx context.Context, key string, fn providers.UpdateFunc) error {
	tx, err := s.client.BeginTx(ctx)
	if err != nil {
		return apperrors.NewStoreUnavailableError("failed to begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key); err != nil {
		return apperrors.NewStoreUnavailableError("failed to acquire key lock", err)
	}

	current, found, err := s.get(ctx, tx, key)
	if err != nil {
		return err
	}

	next, err := fn(current, found)
	if err != nil {
		return err
	}

	if err := s.set(ctx, tx, key, next); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewStoreUnavailableError("failed to commit update", err)
	}
	committed = true
	return nil
}

// Ping verifies database connectivity
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}
