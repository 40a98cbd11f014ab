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

// AccountRepository handles calendar account persistence
type AccountRepository struct {
	db      *pgxpool.Pool
	secrets secrets
}

func NewAccountRepository(db *pgxpool.Pool, sealer *crypto.Sealer) *AccountRepository {
	return &AccountRepository{db: db, secrets: secrets{sealer: sealer}}
}

const accountColumns = `
	id, org_id, service_account_id, email, name, auth_method, settings,
	access_token, sync_state, inbound_sync_lock_token, inbound_sync_lock_until,
	active_period_start, created_at, updated_at`

func (r *AccountRepository) scan(row pgx.Row) (*types.Account, error) {
	var (
		a      types.Account
		method string
		sealed []byte
		token  string
	)
	err := row.Scan(
		&a.ID, &a.OrgID, &a.ServiceAccountID, &a.Email, &a.Name, &method, &sealed,
		&token, &a.SyncState, &a.InboundSyncLockToken, &a.InboundSyncLockUntil,
		&a.ActivePeriodStart, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.AuthMethod = auth.Method(method)
	if a.Settings, err = r.secrets.openBlob(sealed); err != nil {
		return nil, err
	}
	if a.AccessToken, err = r.secrets.openToken(token); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*types.Account, error) {
	a, err := r.scan(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, apperrors.ErrAccountNotFound.WithError(fmt.Errorf("account %s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// TryGetByEmail looks an account up by its canonical email across all
// organizations.
func (r *AccountRepository) TryGetByEmail(ctx context.Context, email string) (*types.Account, bool, error) {
	a, err := r.scan(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email))
	if isNoRows(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get account by email: %w", err)
	}
	return a, true, nil
}

// Create inserts a new account. The id is the sync provider's account id.
func (r *AccountRepository) Create(ctx context.Context, a *types.Account) error {
	settings, err := r.secrets.sealBlob(a.Settings)
	if err != nil {
		return err
	}
	token, err := r.secrets.sealToken(a.AccessToken)
	if err != nil {
		return err
	}
	if a.SyncState == "" {
		a.SyncState = types.SyncStateInitialized
	}

	err = r.db.QueryRow(ctx, `
		INSERT INTO accounts (id, org_id, service_account_id, email, name, auth_method,
		                      settings, access_token, sync_state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, a.ID, a.OrgID, a.ServiceAccountID, a.Email, a.Name, string(a.AuthMethod),
		settings, token, a.SyncState,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// Update writes the fields selected by req.Fields.
func (r *AccountRepository) Update(ctx context.Context, req types.UpdateAccountRequest) error {
	query := "UPDATE accounts SET updated_at = NOW()"
	args := []any{}
	argNum := 1

	set := func(column string, value any) {
		query += fmt.Sprintf(", %s = $%d", column, argNum)
		args = append(args, value)
		argNum++
	}

	if req.Fields.Has(types.UpdateName) {
		set("name", req.Name)
	}
	if req.Fields.Has(types.UpdateAuthMethod) {
		set("auth_method", string(req.AuthMethod))
	}
	if req.Fields.Has(types.UpdateSettings) {
		settings, err := r.secrets.sealBlob(req.Settings)
		if err != nil {
			return err
		}
		set("settings", settings)
	}
	if req.Fields.Has(types.UpdateAccessToken) {
		token, err := r.secrets.sealToken(req.AccessToken)
		if err != nil {
			return err
		}
		set("access_token", token)
	}
	if req.Fields.Has(types.UpdateServiceAccount) {
		set("service_account_id", req.ServiceAccountID)
	}
	if req.Fields.Has(types.UpdateSyncState) {
		set("sync_state", req.SyncState)
	}
	if req.Fields.Has(types.UpdateActivePeriod) {
		set("active_period_start", req.ActivePeriodStart.UTC())
	}

	query += fmt.Sprintf(" WHERE id = $%d", argNum)
	args = append(args, req.ID)

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrAccountNotFound.WithError(fmt.Errorf("account %s", req.ID))
	}
	return nil
}

func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

func (r *AccountRepository) ListByServiceAccount(ctx context.Context, serviceAccountID string) ([]types.Account, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE service_account_id = $1
		ORDER BY created_at
	`, serviceAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sub-accounts: %w", err)
	}
	defer rows.Close()

	var accounts []types.Account
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// ListByOrg returns the organization's accounts, newest first.
func (r *AccountRepository) ListByOrg(ctx context.Context, orgID string, limit, offset int) ([]types.AccountSummary, int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE org_id = $1`, orgID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count accounts: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, email, name, auth_method, service_account_id, sync_state, created_at
		FROM accounts
		WHERE org_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, orgID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var out []types.AccountSummary
	for rows.Next() {
		var (
			s      types.AccountSummary
			method string
		)
		if err := rows.Scan(&s.ID, &s.Email, &s.Name, &method, &s.ServiceAccountID, &s.SyncState, &s.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan account: %w", err)
		}
		s.AuthMethod = auth.Method(method)
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *AccountRepository) CreateError(ctx context.Context, e *types.AccountError) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO account_errors (account_id, type, message, details)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, e.AccountID, string(e.Type), e.Message, e.Details).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account error: %w", err)
	}
	return nil
}

// DeleteErrors clears the account's errors of one type.
func (r *AccountRepository) DeleteErrors(ctx context.Context, accountID string, errType types.AccountErrorType) error {
	_, err := r.db.Exec(ctx, `DELETE FROM account_errors WHERE account_id = $1 AND type = $2`, accountID, string(errType))
	if err != nil {
		return fmt.Errorf("failed to delete account errors: %w", err)
	}
	return nil
}

// AdvanceActivePeriod moves every account whose window starts before start.
func (r *AccountRepository) AdvanceActivePeriod(ctx context.Context, start time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE accounts
		SET active_period_start = $1, updated_at = NOW()
		WHERE active_period_start IS NULL OR active_period_start < $1
	`, start.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to advance active period: %w", err)
	}
	return tag.RowsAffected(), nil
}

// AcquireInboundSyncLock hands the lock to token, replacing any older
// holder.
func (r *AccountRepository) AcquireInboundSyncLock(ctx context.Context, id, token string, until time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE accounts
		SET inbound_sync_lock_token = $2, inbound_sync_lock_until = $3, updated_at = NOW()
		WHERE id = $1
	`, id, token, until.UTC())
	if err != nil {
		return fmt.Errorf("failed to acquire inbound sync lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrAccountNotFound.WithError(fmt.Errorf("account %s", id))
	}
	return nil
}

func (r *AccountRepository) HoldsInboundSyncLock(ctx context.Context, id, token string) (bool, error) {
	var holds bool
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(inbound_sync_lock_token = $2, FALSE)
		FROM accounts
		WHERE id = $1
	`, id, token).Scan(&holds)
	if isNoRows(err) {
		return false, apperrors.ErrAccountNotFound.WithError(fmt.Errorf("account %s", id))
	}
	if err != nil {
		return false, fmt.Errorf("failed to check inbound sync lock: %w", err)
	}
	return holds, nil
}

func (r *AccountRepository) ReleaseInboundSyncLock(ctx context.Context, id, token string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE accounts
		SET inbound_sync_lock_token = NULL, inbound_sync_lock_until = NULL, updated_at = NOW()
		WHERE id = $1 AND inbound_sync_lock_token = $2
	`, id, token)
	if err != nil {
		return fmt.Errorf("failed to release inbound sync lock: %w", err)
	}
	return nil
}
