package types

import (
	"time"

	"github.com/Rohianon/uou/services/calendar-service/internal/auth"
)

// CreateAuthCodeRequest starts an auth attempt for an organization
type CreateAuthCodeRequest struct {
	OrgID       string `json:"-"`
	RedirectURI string `json:"redirect_uri,omitempty"`
}

// CreateAuthCodeResponse is returned after an auth code is created
type CreateAuthCodeResponse struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SubmitAuthRequest carries directly submitted credentials
type SubmitAuthRequest struct {
	Code string            `json:"code"`
	Data map[string]string `json:"data"`
}

// AuthResultResponse describes a finished auth attempt
type AuthResultResponse struct {
	IDType string `json:"id_type"`
	ID     string `json:"id"`
}

// AuthSubaccountRequest provisions an account through a service account
type AuthSubaccountRequest struct {
	OrgID            string `json:"-"`
	ServiceAccountID string `json:"-"`
	Email            string `json:"email"`
	Name             string `json:"name"`
}

// AuthSubaccountResponse is returned after a sub-account is provisioned
type AuthSubaccountResponse struct {
	AccountID string `json:"account_id"`
}

// ServiceAccount is a credential set that provisions linked sub-accounts
type ServiceAccount struct {
	ID         string      `json:"id"`
	OrgID      string      `json:"org_id"`
	Email      string      `json:"email"`
	Name       string      `json:"name"`
	AuthMethod auth.Method `json:"auth_method"`
	Settings   []byte      `json:"-"`
	ExpiresAt  *time.Time  `json:"expires_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Sync states reported by the sync provider
const (
	SyncStateRunning     = "running"
	SyncStateStopped     = "stopped"
	SyncStateInvalid     = "invalid"
	SyncStatePartial     = "partial"
	SyncStateInitialized = "initialized"
)

// Account is a calendar account. ID is the sync provider's account id.
type Account struct {
	ID                   string      `json:"id"`
	OrgID                string      `json:"org_id"`
	ServiceAccountID     *string     `json:"service_account_id,omitempty"`
	Email                string      `json:"email"`
	Name                 string      `json:"name"`
	AuthMethod           auth.Method `json:"auth_method"`
	Settings             []byte      `json:"-"`
	AccessToken          string      `json:"-"`
	SyncState            string      `json:"sync_state"`
	InboundSyncLockToken *string     `json:"-"`
	InboundSyncLockUntil *time.Time  `json:"-"`
	ActivePeriodStart    *time.Time  `json:"active_period_start,omitempty"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// HoldsInboundSyncLock reports whether a full import still holds the
// inbound sync lock at now. Expired locks are ignored.
func (a *Account) HoldsInboundSyncLock(now time.Time) bool {
	return a.InboundSyncLockToken != nil &&
		a.InboundSyncLockUntil != nil &&
		now.Before(*a.InboundSyncLockUntil)
}

// UpdateField selects which fields an UpdateAccountRequest applies
type UpdateField uint8

const (
	UpdateName UpdateField = 1 << iota
	UpdateAuthMethod
	UpdateSettings
	UpdateAccessToken
	UpdateServiceAccount
	UpdateSyncState
	UpdateActivePeriod
)

// Has reports whether f includes all of want.
func (f UpdateField) Has(want UpdateField) bool {
	return f&want == want
}

// UpdateAccountRequest is a partial update. Only the fields named in Fields
// are written.
type UpdateAccountRequest struct {
	ID                string
	Fields            UpdateField
	Name              string
	AuthMethod        auth.Method
	Settings          []byte
	AccessToken       string
	ServiceAccountID  *string
	SyncState         string
	ActivePeriodStart time.Time
}

// NewReauthUpdate refreshes the credentials of an existing account.
func NewReauthUpdate(id, name string, method auth.Method, settings []byte, accessToken string) UpdateAccountRequest {
	return UpdateAccountRequest{
		ID:          id,
		Fields:      UpdateName | UpdateAuthMethod | UpdateSettings | UpdateAccessToken,
		Name:        name,
		AuthMethod:  method,
		Settings:    settings,
		AccessToken: accessToken,
	}
}

// NewAccessTokenUpdate replaces only the access token.
func NewAccessTokenUpdate(id, accessToken string) UpdateAccountRequest {
	return UpdateAccountRequest{ID: id, Fields: UpdateAccessToken, AccessToken: accessToken}
}

// NewSubaccountUpdate re-links an account to a service account with a new
// access token.
func NewSubaccountUpdate(id, name, serviceAccountID, accessToken string) UpdateAccountRequest {
	return UpdateAccountRequest{
		ID:               id,
		Fields:           UpdateName | UpdateServiceAccount | UpdateAccessToken,
		Name:             name,
		ServiceAccountID: &serviceAccountID,
		AccessToken:      accessToken,
	}
}

// NewSyncStateUpdate records the provider-reported sync state.
func NewSyncStateUpdate(id, state string) UpdateAccountRequest {
	return UpdateAccountRequest{ID: id, Fields: UpdateSyncState, SyncState: state}
}

// NewActivePeriodUpdate moves the start of the synchronized window.
func NewActivePeriodUpdate(id string, start time.Time) UpdateAccountRequest {
	return UpdateAccountRequest{ID: id, Fields: UpdateActivePeriod, ActivePeriodStart: start}
}

// AccountErrorType classifies a persisted account error
type AccountErrorType string

const (
	AccountErrorAuth AccountErrorType = "AUTH"
	AccountErrorSync AccountErrorType = "SYNC"
)

// AccountError explains to operators and users why an account is broken
type AccountError struct {
	ID        string           `json:"id"`
	AccountID string           `json:"account_id"`
	Type      AccountErrorType `json:"type"`
	Message   string           `json:"message"`
	Details   string           `json:"details,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// ConferencingUser is an identity at a conferencing provider
type ConferencingUser struct {
	ID         string      `json:"id"`
	OrgID      string      `json:"org_id"`
	Email      string      `json:"email"`
	Name       string      `json:"name"`
	AuthMethod auth.Method `json:"auth_method"`
	ExternalID *string     `json:"external_id,omitempty"`
	Settings   []byte      `json:"-"`
	ExpiresAt  *time.Time  `json:"expires_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Calendar is a calendar of an account, keyed by its external id
type Calendar struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	ExternalID  *string   `json:"external_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Timezone    string    `json:"timezone"`
	ReadOnly    bool      `json:"read_only"`
	IsPrimary   bool      `json:"is_primary"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Event is a calendar event, keyed by its external id within a calendar
type Event struct {
	ID         string    `json:"id"`
	CalendarID string    `json:"calendar_id"`
	ExternalID *string   `json:"external_id,omitempty"`
	Title      string    `json:"title"`
	StartsAt   time.Time `json:"starts_at"`
	EndsAt     time.Time `json:"ends_at"`
	Status     string    `json:"status"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ProviderNotification is one change reported by the sync provider's webhook
type ProviderNotification struct {
	Date       int64  `json:"date"`
	Object     string `json:"object"`
	Type       string `json:"type"`
	ObjectData struct {
		ID         string `json:"id"`
		AccountID  string `json:"account_id"`
		Object     string `json:"object"`
		Attributes struct {
			CalendarID string `json:"calendar_id"`
		} `json:"attributes"`
	} `json:"object_data"`
}

// ProviderWebhook is the body of a sync provider webhook delivery
type ProviderWebhook struct {
	Deltas []ProviderNotification `json:"deltas"`
}

// AccountSummary is the list view of an account
type AccountSummary struct {
	ID               string      `json:"id"`
	Email            string      `json:"email"`
	Name             string      `json:"name"`
	AuthMethod       auth.Method `json:"auth_method"`
	ServiceAccountID *string     `json:"service_account_id,omitempty"`
	SyncState        string      `json:"sync_state"`
	CreatedAt        time.Time   `json:"created_at"`
}
