package statestore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/mainbooth/boothdrive/internal/cloudfiles"
)

const (
	postgresTableName        = "boothdrive_placeholders"
	postgresOperationTimeout = 5 * time.Second
)

func init() {
	RegisterFactory("postgres", NewPostgresStore)
	RegisterFactory("postgresql", NewPostgresStore)
}

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// postgresStore keeps one row per placeholder, keyed by the relative path.
type postgresStore struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &postgresStore{
		dsn:       dsn,
		tableName: postgresTableName,
		openDB:    sql.Open,
	}, nil
}

func (s *postgresStore) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := `
			CREATE TABLE IF NOT EXISTS ` + quoteIdentifier(s.tableName) + ` (
				path TEXT PRIMARY KEY,
				identity TEXT NOT NULL,
				size BIGINT NOT NULL,
				pin_state INTEGER NOT NULL,
				in_sync INTEGER NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func (s *postgresStore) Put(rec PlaceholderRecord) error {
	if strings.TrimSpace(rec.Path) == "" {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := `
		INSERT INTO ` + quoteIdentifier(s.tableName) + ` (path, identity, size, pin_state, in_sync, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (path)
		DO UPDATE SET identity = EXCLUDED.identity,
			size = EXCLUDED.size,
			pin_state = EXCLUDED.pin_state,
			in_sync = EXCLUDED.in_sync,
			updated_at = EXCLUDED.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		rec.Path, rec.Identity, rec.Size, int(rec.Pin), int(rec.InSync), rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (s *postgresStore) Get(path string) (PlaceholderRecord, bool, error) {
	if err := s.ensureReady(); err != nil {
		return PlaceholderRecord{}, false, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := `
		SELECT path, identity, size, pin_state, in_sync, created_at, updated_at
		FROM ` + quoteIdentifier(s.tableName) + ` WHERE path = $1`
	var rec PlaceholderRecord
	var pin, inSync int
	err := s.db.QueryRowContext(ctx, query, path).Scan(
		&rec.Path, &rec.Identity, &rec.Size, &pin, &inSync, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PlaceholderRecord{}, false, nil
	}
	if err != nil {
		return PlaceholderRecord{}, false, err
	}
	rec.Pin = pinStateFromInt(pin)
	rec.InSync = inSyncStateFromInt(inSync)
	return rec, true, nil
}

func (s *postgresStore) Delete(path string) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := `DELETE FROM ` + quoteIdentifier(s.tableName) + ` WHERE path = $1`
	_, err := s.db.ExecContext(ctx, query, path)
	return err
}

func (s *postgresStore) Rename(oldPath, newPath string) error {
	if strings.TrimSpace(newPath) == "" {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := `
		UPDATE ` + quoteIdentifier(s.tableName) + `
		SET path = $2, updated_at = NOW()
		WHERE path = $1`
	_, err := s.db.ExecContext(ctx, query, oldPath, newPath)
	return err
}

func (s *postgresStore) List() ([]PlaceholderRecord, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := `
		SELECT path, identity, size, pin_state, in_sync, created_at, updated_at
		FROM ` + quoteIdentifier(s.tableName) + ` ORDER BY path ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]PlaceholderRecord, 0)
	for rows.Next() {
		var rec PlaceholderRecord
		var pin, inSync int
		if err := rows.Scan(&rec.Path, &rec.Identity, &rec.Size, &pin, &inSync, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Pin = pinStateFromInt(pin)
		rec.InSync = inSyncStateFromInt(inSync)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *postgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func pinStateFromInt(v int) cloudfiles.PinState {
	switch cloudfiles.PinState(v) {
	case cloudfiles.PinStatePinned, cloudfiles.PinStateUnpinned, cloudfiles.PinStateExcluded:
		return cloudfiles.PinState(v)
	default:
		return cloudfiles.PinStateUnspecified
	}
}

func inSyncStateFromInt(v int) cloudfiles.InSyncState {
	if cloudfiles.InSyncState(v) == cloudfiles.InSyncStateInSync {
		return cloudfiles.InSyncStateInSync
	}
	return cloudfiles.InSyncStateNotInSync
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
