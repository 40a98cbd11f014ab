package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Rohianon/uou/pkg/crypto"
	"github.com/Rohianon/uou/services/calendar-service/internal/auth"
	"github.com/Rohianon/uou/services/calendar-service/internal/types"
)

// ConferencingUserRepository handles conferencing user persistence
type ConferencingUserRepository struct {
	db      *pgxpool.Pool
	secrets secrets
}

func NewConferencingUserRepository(db *pgxpool.Pool, sealer *crypto.Sealer) *ConferencingUserRepository {
	return &ConferencingUserRepository{db: db, secrets: secrets{sealer: sealer}}
}

func (r *ConferencingUserRepository) TryGetByEmail(ctx context.Context, email string) (*types.ConferencingUser, bool, error) {
	var (
		u      types.ConferencingUser
		method string
		sealed []byte
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, org_id, email, name, auth_method, external_id, settings, expires_at, created_at, updated_at
		FROM conferencing_users
		WHERE email = $1
	`, email).Scan(
		&u.ID, &u.OrgID, &u.Email, &u.Name, &method, &u.ExternalID, &sealed, &u.ExpiresAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if isNoRows(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get conferencing user by email: %w", err)
	}

	u.AuthMethod = auth.Method(method)
	if u.Settings, err = r.secrets.openBlob(sealed); err != nil {
		return nil, false, err
	}
	return &u, true, nil
}

// Create inserts u and sets its generated id.
func (r *ConferencingUserRepository) Create(ctx context.Context, u *types.ConferencingUser) error {
	settings, err := r.secrets.sealBlob(u.Settings)
	if err != nil {
		return err
	}

	err = r.db.QueryRow(ctx, `
		INSERT INTO conferencing_users (org_id, email, name, auth_method, external_id, settings, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, u.OrgID, u.Email, u.Name, string(u.AuthMethod), u.ExternalID, settings, utc(u.ExpiresAt),
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create conferencing user: %w", err)
	}
	return nil
}

// UpdateSettings replaces the credentials of a conferencing user.
func (r *ConferencingUserRepository) UpdateSettings(ctx context.Context, id, name string, externalID *string, settings []byte, expiresAt *time.Time) error {
	sealed, err := r.secrets.sealBlob(settings)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, `
		UPDATE conferencing_users
		SET name = $2, external_id = COALESCE($3, external_id), settings = $4, expires_at = $5, updated_at = NOW()
		WHERE id = $1
	`, id, name, externalID, sealed, utc(expiresAt))
	if err != nil {
		return fmt.Errorf("failed to update conferencing user: %w", err)
	}
	return nil
}
