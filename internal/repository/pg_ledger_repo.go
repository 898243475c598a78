package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/birthday-scheduler/internal/domain"
)

type pgLedgerRepository struct {
	pool *pgxpool.Pool
}

// NewPgLedgerRepository returns a LedgerRepository backed by PostgreSQL.
func NewPgLedgerRepository(pool *pgxpool.Pool) LedgerRepository {
	return &pgLedgerRepository{pool: pool}
}

const ledgerColumns = `id, user_id, notification_type, year, status,
	processed_at, error_message, created_at, updated_at`

// Create relies on the (user_id, notification_type, year) unique index;
// a concurrent or repeated insert surfaces as domain.ErrConflict.
func (r *pgLedgerRepository) Create(ctx context.Context, e *domain.LedgerEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_ledger
			(id, user_id, notification_type, year, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.UserID, e.Type, e.Year, e.Status, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (r *pgLedgerRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM notification_ledger WHERE id = $1`, id)
	e, err := scanLedgerEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return e, nil
}

// MarkSuccess is safe to replay: it always writes the same fields.
func (r *pgLedgerRepository) MarkSuccess(ctx context.Context, id uuid.UUID, processedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notification_ledger
		SET status = 'success', processed_at = $1, error_message = NULL
		WHERE id = $2`, processedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark ledger entry success: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *pgLedgerRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_ledger
		SET status = 'failed', error_message = $1
		WHERE id = $2 AND status <> 'success'`, errMsg, id)
	if err != nil {
		return fmt.Errorf("mark ledger entry failed: %w", err)
	}
	return nil
}

func (r *pgLedgerRepository) FindStalePending(
	ctx context.Context,
	years []int,
	olderThan time.Time,
	limit int,
) ([]*domain.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ledgerColumns+`
		FROM notification_ledger
		WHERE status = 'pending'
		  AND year = ANY($1::int[])
		  AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3`, years, olderThan.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("find stale pending entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ---- helpers ----

func scanLedgerEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := row.Scan(
		&e.ID, &e.UserID, &e.Type, &e.Year, &e.Status,
		&e.ProcessedAt, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
