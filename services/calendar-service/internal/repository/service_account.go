package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Rohianon/uou/pkg/crypto"
	apperrors "github.com/Rohianon/uou/pkg/errors"
	"github.com/Rohianon/uou/services/calendar-service/internal/auth"
	"github.com/Rohianon/uou/services/calendar-service/internal/types"
)

// ServiceAccountRepository handles service account persistence
type ServiceAccountRepository struct {
	db      *pgxpool.Pool
	secrets secrets
}

func NewServiceAccountRepository(db *pgxpool.Pool, sealer *crypto.Sealer) *ServiceAccountRepository {
	return &ServiceAccountRepository{db: db, secrets: secrets{sealer: sealer}}
}

const serviceAccountColumns = `id, org_id, email, name, auth_method, settings, expires_at, created_at, updated_at`

func (r *ServiceAccountRepository) scan(row pgx.Row) (*types.ServiceAccount, error) {
	var (
		sa     types.ServiceAccount
		method string
		sealed []byte
	)
	err := row.Scan(&sa.ID, &sa.OrgID, &sa.Email, &sa.Name, &method, &sealed, &sa.ExpiresAt, &sa.CreatedAt, &sa.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sa.AuthMethod = auth.Method(method)
	if sa.Settings, err = r.secrets.openBlob(sealed); err != nil {
		return nil, err
	}
	return &sa, nil
}

func (r *ServiceAccountRepository) GetByID(ctx context.Context, id string) (*types.ServiceAccount, error) {
	sa, err := r.scan(r.db.QueryRow(ctx, `SELECT `+serviceAccountColumns+` FROM service_accounts WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, apperrors.ErrServiceAccountNotFound.WithError(fmt.Errorf("service account %s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service account: %w", err)
	}
	return sa, nil
}

func (r *ServiceAccountRepository) TryGetByEmail(ctx context.Context, email string) (*types.ServiceAccount, bool, error) {
	sa, err := r.scan(r.db.QueryRow(ctx, `SELECT `+serviceAccountColumns+` FROM service_accounts WHERE email = $1`, email))
	if isNoRows(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get service account by email: %w", err)
	}
	return sa, true, nil
}

// Create inserts sa and sets its generated id.
func (r *ServiceAccountRepository) Create(ctx context.Context, sa *types.ServiceAccount) error {
	settings, err := r.secrets.sealBlob(sa.Settings)
	if err != nil {
		return err
	}

	err = r.db.QueryRow(ctx, `
		INSERT INTO service_accounts (id, org_id, email, name, auth_method, settings, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, sa.ID, sa.OrgID, sa.Email, sa.Name, string(sa.AuthMethod), settings, utc(sa.ExpiresAt),
	).Scan(&sa.CreatedAt, &sa.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create service account: %w", err)
	}
	return nil
}

// UpdateSettings replaces the credentials of a service account.
func (r *ServiceAccountRepository) UpdateSettings(ctx context.Context, id, name string, settings []byte, expiresAt *time.Time) error {
	sealed, err := r.secrets.sealBlob(settings)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE service_accounts
		SET name = $2, settings = $3, expires_at = $4, updated_at = NOW()
		WHERE id = $1
	`, id, name, sealed, utc(expiresAt))
	if err != nil {
		return fmt.Errorf("failed to update service account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrServiceAccountNotFound.WithError(fmt.Errorf("service account %s", id))
	}
	return nil
}

// ListExpiring returns service accounts whose credentials expire before the
// given time.
func (r *ServiceAccountRepository) ListExpiring(ctx context.Context, before time.Time) ([]types.ServiceAccount, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+serviceAccountColumns+`
		FROM service_accounts
		WHERE expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at
	`, before.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring service accounts: %w", err)
	}
	defer rows.Close()

	var out []types.ServiceAccount
	for rows.Next() {
		sa, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service account: %w", err)
		}
		out = append(out, *sa)
	}
	return out, rows.Err()
}
