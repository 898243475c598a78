package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/birthday-scheduler/internal/domain"
)

// PgUserRepository reads users from PostgreSQL.
type PgUserRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPgUserRepository returns a UserRepository backed by PostgreSQL.
func NewPgUserRepository(pool *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{pool: pool, now: time.Now}
}

const userColumns = `id, email, first_name, last_name, timezone, date_of_birth, active`

// FindEligible evaluates the hour and calendar day inside Postgres with
// AT TIME ZONE, so every user is judged against their own wall clock. A
// timezone Postgres does not know is read as UTC, the same fallback
// domain.User.Location applies, instead of failing the whole query.
func (r *PgUserRepository) FindEligible(
	ctx context.Context,
	dateField string,
	targetHour, batchSize int,
	cursor *uuid.UUID,
) ([]*domain.User, error) {
	col, err := validateEligibilityArgs(dateField, targetHour, batchSize)
	if err != nil {
		return nil, err
	}

	query := eligibleQuery(col)
	rows, err := r.pool.Query(ctx, query, r.now().UTC(), targetHour, cursor, batchSize)
	if err != nil {
		return nil, fmt.Errorf("find eligible users: %w", err)
	}
	defer rows.Close()

	users := make([]*domain.User, 0, batchSize)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan eligible user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// eligibleQuery resolves each user's zone through pg_timezone_names before
// converting, since AT TIME ZONE raises an error on a name it cannot find.
// col comes from the dateColumns whitelist, never from caller input.
func eligibleQuery(col string) string {
	return fmt.Sprintf(`
		SELECT %s
		FROM (
			SELECT u.*, ($1::timestamptz AT TIME ZONE COALESCE(tz.name, 'UTC')) AS local_now
			FROM users u
			LEFT JOIN pg_timezone_names tz ON tz.name = u.timezone
			WHERE u.active
		) eligible
		WHERE EXTRACT(HOUR  FROM local_now) = $2
		  AND EXTRACT(MONTH FROM %[2]s) = EXTRACT(MONTH FROM local_now)
		  AND EXTRACT(DAY   FROM %[2]s) = EXTRACT(DAY   FROM local_now)
		  AND ($3::uuid IS NULL OR id > $3)
		ORDER BY id ASC
		LIMIT $4`, userColumns, col)
}

func (r *PgUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// SeedUser inserts u unless a user with the same email already exists.
// It reports whether a row was written.
func (r *PgUserRepository) SeedUser(ctx context.Context, u *domain.User, location string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, email, first_name, last_name, date_of_birth, location, timezone, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT ((lower(email))) DO NOTHING`,
		u.ID, u.Email, u.FirstName, u.LastName, u.DateOfBirth, location, u.Timezone, u.Active,
	)
	if err != nil {
		return false, fmt.Errorf("seed user %s: %w", u.Email, err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Timezone, &u.DateOfBirth, &u.Active); err != nil {
		return nil, err
	}
	return &u, nil
}

var _ UserRepository = (*PgUserRepository)(nil)
