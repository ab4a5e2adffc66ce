package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/schooladmin/recordsync/internal/application/crud"
	"github.com/schooladmin/recordsync/internal/domain/records"
	"github.com/schooladmin/recordsync/pkg/logger"
	"github.com/schooladmin/recordsync/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// WRITE JOURNAL
// One row per remote write attempt, successful or not.
// ══════════════════════════════════════════════════════════════════════════════

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

// Journal stores write attempts in write_journal. It implements crud.Journal.
type Journal struct {
	conn    *Connection
	retrier *retry.Retrier
	timeout time.Duration
	logger  *logger.Logger
}

// JournalOption configures a Journal.
type JournalOption func(*Journal)

// WithRetrier overrides the retry policy for inserts.
func WithRetrier(r *retry.Retrier) JournalOption {
	return func(j *Journal) { j.retrier = r }
}

// WithQueryTimeout bounds each statement.
func WithQueryTimeout(d time.Duration) JournalOption {
	return func(j *Journal) { j.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) JournalOption {
	return func(j *Journal) { j.logger = l }
}

// NewJournal creates a Journal on conn.
func NewJournal(conn *Connection, opts ...JournalOption) *Journal {
	j := &Journal{conn: conn, timeout: 5 * time.Second, logger: logger.Nop()}
	for _, opt := range opts {
		opt(j)
	}
	if j.retrier == nil {
		j.retrier = retry.DatabaseRetrier(
			retry.WithRetryIf(IsTransient),
			retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
				j.logger.Warn("journal insert retry",
					logger.Int("attempt", attempt),
					logger.Err(err),
					logger.Duration("delay", delay),
				)
			}),
		)
	}
	return j
}

const insertEntry = `
	INSERT INTO write_journal (op_id, op, kind, record_id, payload, success, error, duration_ms, at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (op_id) DO NOTHING`

// Record inserts one entry. Transient failures are retried.
func (j *Journal) Record(ctx context.Context, e crud.JournalEntry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return j.retrier.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, j.timeout)
		defer cancel()

		_, err := j.conn.DB().ExecContext(ctx, insertEntry,
			e.OpID.String(),
			e.Op,
			string(e.Kind),
			nullableID(e.RecordID),
			nullablePayload(e.Payload),
			e.Success,
			e.Error,
			e.Duration.Milliseconds(),
			e.At,
		)
		if IsUniqueViolation(err) {
			// An earlier attempt committed before its error reached us.
			j.logger.Debug("journal entry already recorded", logger.String("op_id", e.OpID.String()))
			return nil
		}
		if err != nil {
			return fmt.Errorf("postgres: insert journal entry: %w", err)
		}
		return nil
	})
}

// Recent returns the newest entries, optionally restricted to one kind.
func (j *Journal) Recent(ctx context.Context, kind records.Kind, limit int) ([]crud.JournalEntry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	query := `SELECT op_id, op, kind, record_id, payload, success, error, duration_ms, at FROM write_journal`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = $1 ORDER BY at DESC LIMIT $2`
		args = append(args, string(kind), limit)
	} else {
		query += ` ORDER BY at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := j.conn.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query journal: %w", err)
	}
	defer rows.Close()

	entries := []crud.JournalEntry{}
	for rows.Next() {
		var (
			e        crud.JournalEntry
			opID     string
			kindText string
			recordID sql.NullInt64
			payload  []byte
			millis   int64
		)
		if err := rows.Scan(&opID, &e.Op, &kindText, &recordID, &payload, &e.Success, &e.Error, &millis, &e.At); err != nil {
			return nil, fmt.Errorf("postgres: scan journal entry: %w", err)
		}
		if e.OpID, err = uuid.Parse(opID); err != nil {
			return nil, fmt.Errorf("postgres: journal op id %q: %w", opID, err)
		}
		e.Kind = records.Kind(kindText)
		if recordID.Valid {
			id := records.ID(recordID.Int64)
			e.RecordID = &id
		}
		if len(payload) > 0 {
			e.Payload = payload
		}
		e.Duration = time.Duration(millis) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullableID(id *records.ID) any {
	if id == nil {
		return nil
	}
	return int64(*id)
}

func nullablePayload(p []byte) any {
	if len(p) == 0 {
		return nil
	}
	return string(p)
}
