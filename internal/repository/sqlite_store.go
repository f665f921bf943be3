package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ricirt/offline-sync/internal/domain"
)

type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore returns a Store backed by the on-device SQLite database.
// The caller runs db.Migrate first; Close closes the underlying *sql.DB.
func NewSQLiteStore(db *sql.DB) Store {
	return &sqliteStore{db: db}
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// ---- pending_operations ----

const operationColumns = `id, seq, kind, payload, priority, state, idempotency_key,
	retry_count, max_retries, next_attempt_at, last_error, enqueued_at, updated_at`

func (s *sqliteStore) LoadOperations(ctx context.Context) ([]*domain.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+operationColumns+`
		FROM pending_operations
		ORDER BY priority_rank DESC, enqueued_at ASC, seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("load operations: %w", err)
	}
	defer rows.Close()

	var items []*domain.QueueItem
	for rows.Next() {
		item, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *sqliteStore) InsertOperation(ctx context.Context, item *domain.QueueItem) error {
	return withRetry(func() error {
		return insertOperation(ctx, s.db, item)
	})
}

func (s *sqliteStore) ReplaceOperation(ctx context.Context, evictID string, item *domain.QueueItem) error {
	return s.transact(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_operations WHERE id = ?`, evictID); err != nil {
			return fmt.Errorf("evict operation: %w", err)
		}
		return insertOperation(ctx, tx, item)
	})
}

func (s *sqliteStore) UpdateOperation(ctx context.Context, item *domain.QueueItem) error {
	return withRetry(func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE pending_operations
			SET state = ?, retry_count = ?, next_attempt_at = ?, last_error = ?, updated_at = ?
			WHERE id = ?`,
			item.State, item.RetryCount, item.NextAttemptAt.UnixNano(),
			nullString(item.LastError), item.UpdatedAt.UnixNano(), item.ID,
		)
		if err != nil {
			return fmt.Errorf("update operation: %w", err)
		}
		return expectOneRow(res)
	})
}

func (s *sqliteStore) DeleteOperation(ctx context.Context, id string) error {
	return withRetry(func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM pending_operations WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete operation: %w", err)
		}
		return expectOneRow(res)
	})
}

func (s *sqliteStore) ResetInFlight(ctx context.Context) (int, error) {
	var n int64
	err := withRetry(func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE pending_operations SET state = ?, updated_at = ? WHERE state = ?`,
			domain.StatePending, time.Now().UTC().UnixNano(), domain.StateInFlight)
		if err != nil {
			return fmt.Errorf("reset in-flight operations: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

// ---- error_reports ----

const errorColumns = `id, created_at, category, severity, message, screen, action,
	operation_id, kind, resolved, user_impact`

func (s *sqliteStore) LoadErrors(ctx context.Context) ([]*domain.ErrorRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+errorColumns+` FROM error_reports ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("load errors: %w", err)
	}
	defer rows.Close()

	var records []*domain.ErrorRecord
	for rows.Next() {
		rec, err := scanErrorRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *sqliteStore) AppendError(ctx context.Context, rec *domain.ErrorRecord, evictIDs []string) error {
	return s.transact(ctx, func(tx *sql.Tx) error {
		if err := deleteByIDs(ctx, tx, "error_reports", evictIDs); err != nil {
			return fmt.Errorf("evict errors: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO error_reports
				(id, seq, created_at, category, severity, message, screen, action,
				 operation_id, kind, resolved, user_impact)
			VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM error_reports), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.Timestamp.UnixNano(), rec.Category, rec.Severity, rec.Message,
			nullString(rec.Context.Screen), nullString(rec.Context.Action),
			nullString(rec.Context.OperationID), nullString(string(rec.Context.Kind)),
			rec.Resolved, rec.UserImpact,
		)
		if err != nil {
			return fmt.Errorf("insert error report: %w", err)
		}
		return nil
	})
}

func (s *sqliteStore) MarkErrorResolved(ctx context.Context, id string) error {
	return withRetry(func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE error_reports SET resolved = 1 WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("resolve error report: %w", err)
		}
		return expectOneRow(res)
	})
}

func (s *sqliteStore) DeleteErrors(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.transact(ctx, func(tx *sql.Tx) error {
		return deleteByIDs(ctx, tx, "error_reports", ids)
	})
}

// ---- idempotency_keys ----

func (s *sqliteStore) IsCompleted(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM idempotency_keys WHERE idempotency_key = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup idempotency key: %w", err)
	}
	return true, nil
}

func (s *sqliteStore) MarkCompleted(ctx context.Context, key string, kind domain.Kind, at time.Time) error {
	return withRetry(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO idempotency_keys (idempotency_key, kind, completed_at)
			VALUES (?, ?, ?)
			ON CONFLICT (idempotency_key) DO NOTHING`, key, kind, at.UnixNano())
		if err != nil {
			return fmt.Errorf("record idempotency key: %w", err)
		}
		return nil
	})
}

// ---- helpers ----

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

// transact runs fn in a transaction, retrying the whole unit on lock contention.
func (s *sqliteStore) transact(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return withRetry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}

func insertOperation(ctx context.Context, ex execer, item *domain.QueueItem) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO pending_operations
			(id, seq, kind, payload, priority, priority_rank, state, idempotency_key,
			 retry_count, max_retries, next_attempt_at, last_error, enqueued_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Seq, item.Kind, string(item.Payload), item.Priority, item.Priority.Rank(),
		item.State, nullString(item.IdempotencyKey), item.RetryCount, item.MaxRetries,
		item.NextAttemptAt.UnixNano(), nullString(item.LastError),
		item.EnqueuedAt.UnixNano(), item.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

func deleteByIDs(ctx context.Context, ex execer, table string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := ex.ExecContext(ctx, "DELETE FROM "+table+" WHERE id IN ("+placeholders+")", args...)
	return err
}

func scanOperation(row scanner) (*domain.QueueItem, error) {
	var (
		item                             domain.QueueItem
		payload                          string
		idemKey, lastErr                 sql.NullString
		nextAttempt, enqueuedAt, updated int64
	)
	err := row.Scan(
		&item.ID, &item.Seq, &item.Kind, &payload, &item.Priority, &item.State, &idemKey,
		&item.RetryCount, &item.MaxRetries, &nextAttempt, &lastErr, &enqueuedAt, &updated,
	)
	if err != nil {
		return nil, fmt.Errorf("scan operation: %w", err)
	}
	item.Payload = []byte(payload)
	item.IdempotencyKey = idemKey.String
	item.LastError = lastErr.String
	item.NextAttemptAt = time.Unix(0, nextAttempt).UTC()
	item.EnqueuedAt = time.Unix(0, enqueuedAt).UTC()
	item.UpdatedAt = time.Unix(0, updated).UTC()
	return &item, nil
}

func scanErrorRecord(row scanner) (*domain.ErrorRecord, error) {
	var (
		rec                               domain.ErrorRecord
		createdAt                         int64
		screen, action, operationID, kind sql.NullString
	)
	err := row.Scan(
		&rec.ID, &createdAt, &rec.Category, &rec.Severity, &rec.Message,
		&screen, &action, &operationID, &kind, &rec.Resolved, &rec.UserImpact,
	)
	if err != nil {
		return nil, fmt.Errorf("scan error report: %w", err)
	}
	rec.Timestamp = time.Unix(0, createdAt).UTC()
	rec.Context = domain.ErrorContext{
		Screen:      screen.String,
		Action:      action.String,
		OperationID: operationID.String,
		Kind:        domain.Kind(kind.String),
	}
	return &rec, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
