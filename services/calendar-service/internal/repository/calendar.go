package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/Rohianon/uou/pkg/errors"
	"github.com/Rohianon/uou/services/calendar-service/internal/types"
)

// CalendarRepository handles calendar persistence
type CalendarRepository struct {
	db *pgxpool.Pool
}

func NewCalendarRepository(db *pgxpool.Pool) *CalendarRepository {
	return &CalendarRepository{db: db}
}

const calendarColumns = `id, account_id, external_id, name, description, timezone, read_only, is_primary, updated_at`

func scanCalendar(row pgx.Row) (*types.Calendar, error) {
	var c types.Calendar
	err := row.Scan(&c.ID, &c.AccountID, &c.ExternalID, &c.Name, &c.Description, &c.Timezone, &c.ReadOnly, &c.IsPrimary, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CalendarRepository) GetByID(ctx context.Context, id string) (*types.Calendar, error) {
	c, err := scanCalendar(r.db.QueryRow(ctx, `SELECT `+calendarColumns+` FROM calendars WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, apperrors.ErrCalendarNotFound.WithError(fmt.Errorf("calendar %s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get calendar: %w", err)
	}
	return c, nil
}

func (r *CalendarRepository) TryGetByExternalID(ctx context.Context, accountID, externalID string) (*types.Calendar, bool, error) {
	c, err := scanCalendar(r.db.QueryRow(ctx, `
		SELECT `+calendarColumns+`
		FROM calendars
		WHERE account_id = $1 AND external_id = $2
	`, accountID, externalID))
	if isNoRows(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get calendar by external id: %w", err)
	}
	return c, true, nil
}

// Upsert inserts or updates the calendar by (account id, external id).
func (r *CalendarRepository) Upsert(ctx context.Context, c *types.Calendar) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO calendars (account_id, external_id, name, description, timezone, read_only, is_primary)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_id, external_id) DO UPDATE
		SET name = EXCLUDED.name,
		    description = EXCLUDED.description,
		    timezone = EXCLUDED.timezone,
		    read_only = EXCLUDED.read_only,
		    is_primary = EXCLUDED.is_primary,
		    updated_at = NOW()
		RETURNING id, updated_at
	`, c.AccountID, c.ExternalID, c.Name, c.Description, c.Timezone, c.ReadOnly, c.IsPrimary,
	).Scan(&c.ID, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert calendar: %w", err)
	}
	return nil
}

func (r *CalendarRepository) SetExternalID(ctx context.Context, id, externalID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE calendars SET external_id = $2, updated_at = NOW() WHERE id = $1
	`, id, externalID)
	if err != nil {
		return fmt.Errorf("failed to set calendar external id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrCalendarNotFound.WithError(fmt.Errorf("calendar %s", id))
	}
	return nil
}

func (r *CalendarRepository) ListByAccount(ctx context.Context, accountID string) ([]types.Calendar, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+calendarColumns+`
		FROM calendars
		WHERE account_id = $1
		ORDER BY is_primary DESC, name
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}
	defer rows.Close()

	var out []types.Calendar
	for rows.Next() {
		c, err := scanCalendar(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan calendar: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// DeleteByExternalID removes the calendar and, by cascade, its events.
func (r *CalendarRepository) DeleteByExternalID(ctx context.Context, accountID, externalID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM calendars WHERE account_id = $1 AND external_id = $2`, accountID, externalID)
	if err != nil {
		return fmt.Errorf("failed to delete calendar: %w", err)
	}
	return nil
}
