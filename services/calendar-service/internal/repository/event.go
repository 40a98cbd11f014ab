package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/Rohianon/uou/pkg/errors"
	"github.com/Rohianon/uou/services/calendar-service/internal/types"
)

// EventRepository handles event persistence
type EventRepository struct {
	db *pgxpool.Pool
}

func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) GetByID(ctx context.Context, id string) (*types.Event, error) {
	var e types.Event
	err := r.db.QueryRow(ctx, `
		SELECT id, calendar_id, external_id, title, starts_at, ends_at, status, updated_at
		FROM events
		WHERE id = $1
	`, id).Scan(&e.ID, &e.CalendarID, &e.ExternalID, &e.Title, &e.StartsAt, &e.EndsAt, &e.Status, &e.UpdatedAt)
	if isNoRows(err) {
		return nil, apperrors.ErrEventNotFound.WithError(fmt.Errorf("event %s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &e, nil
}

// Upsert inserts or updates the event by (calendar id, external id).
func (r *EventRepository) Upsert(ctx context.Context, e *types.Event) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO events (calendar_id, external_id, title, starts_at, ends_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (calendar_id, external_id) DO UPDATE
		SET title = EXCLUDED.title,
		    starts_at = EXCLUDED.starts_at,
		    ends_at = EXCLUDED.ends_at,
		    status = EXCLUDED.status,
		    updated_at = NOW()
		RETURNING id, updated_at
	`, e.CalendarID, e.ExternalID, e.Title, e.StartsAt.UTC(), e.EndsAt.UTC(), e.Status,
	).Scan(&e.ID, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert event: %w", err)
	}
	return nil
}

func (r *EventRepository) SetExternalID(ctx context.Context, id, externalID string) error {
	tag, err := r.db.Exec(ctx, `UPDATE events SET external_id = $2, updated_at = NOW() WHERE id = $1`, id, externalID)
	if err != nil {
		return fmt.Errorf("failed to set event external id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrEventNotFound.WithError(fmt.Errorf("event %s", id))
	}
	return nil
}

func (r *EventRepository) DeleteByExternalID(ctx context.Context, accountID, externalID string) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM events e
		USING calendars c
		WHERE e.calendar_id = c.id AND c.account_id = $1 AND e.external_id = $2
	`, accountID, externalID)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

func (r *EventRepository) DeleteMissing(ctx context.Context, calendarID string, keep []string) (int64, error) {
	if keep == nil {
		keep = []string{}
	}
	tag, err := r.db.Exec(ctx, `
		DELETE FROM events
		WHERE calendar_id = $1 AND external_id IS NOT NULL AND NOT (external_id = ANY($2))
	`, calendarID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *EventRepository) DeleteEndedBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM events WHERE ends_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete ended events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *EventRepository) CountByCalendar(ctx context.Context, calendarID string) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM events WHERE calendar_id = $1`, calendarID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}
