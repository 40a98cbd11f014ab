package nylas

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/Rohianon/uou/pkg/errors"
)

// MockClient is an in-memory sync provider for tests and local runs
type MockClient struct {
	mu        sync.RWMutex
	accounts  map[string]*Account
	tokens    map[string]string
	calendars map[string]*Calendar
	events    map[string]*Event

	// AuthErr, when set, is returned by AuthAccount and AuthSubaccount.
	AuthErr error
	// AccountIDOverride, when set, is returned as the account id of every
	// connect call.
	AccountIDOverride string
}

// NewMockClient creates a new mock sync provider client
func NewMockClient() *MockClient {
	return &MockClient{
		accounts:  make(map[string]*Account),
		tokens:    make(map[string]string),
		calendars: make(map[string]*Calendar),
		events:    make(map[string]*Event),
	}
}

func (c *MockClient) AuthAccount(ctx context.Context, creds Credentials, name, email string) (*AuthResponse, error) {
	return c.connect(creds, name, email)
}

func (c *MockClient) AuthSubaccount(ctx context.Context, creds Credentials, name, email string) (*AuthResponse, error) {
	return c.connect(creds, name, email)
}

// connect returns the same account id for the same email, as the real
// provider does on re-authentication.
func (c *MockClient) connect(creds Credentials, name, email string) (*AuthResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.AuthErr != nil {
		return nil, c.AuthErr
	}

	email = strings.ToLower(email)
	var account *Account
	for _, a := range c.accounts {
		if a.Email == email {
			account = a
			break
		}
	}
	if account == nil {
		account = &Account{
			ID:        strings.ReplaceAll(uuid.New().String(), "-", ""),
			Email:     email,
			Provider:  creds.Provider,
			SyncState: "running",
		}
		c.accounts[account.ID] = account
	}
	account.Name = name

	token := uuid.New().String()
	c.tokens[token] = account.ID

	id := account.ID
	if c.AccountIDOverride != "" {
		id = c.AccountIDOverride
	}
	return &AuthResponse{AccountID: id, AccessToken: token, Email: email, Provider: creds.Provider}, nil
}

func (c *MockClient) accountFor(accessToken string) (string, error) {
	id, ok := c.tokens[accessToken]
	if !ok {
		return "", apperrors.ErrProvider.Withf("Sync provider rejected the request: invalid access token")
	}
	return id, nil
}

func (c *MockClient) GetAccount(ctx context.Context, accessToken string) (*Account, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, err := c.accountFor(accessToken)
	if err != nil {
		return nil, err
	}
	a, ok := c.accounts[id]
	if !ok {
		return nil, apperrors.ErrNotFound.WithError(fmt.Errorf("account %s", id))
	}
	out := *a
	return &out, nil
}

// SetSyncState changes what GetAccount reports for an account.
func (c *MockClient) SetSyncState(accountID, state string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.accounts[accountID]; ok {
		a.SyncState = state
	}
}

func (c *MockClient) DeleteAccount(ctx context.Context, accountID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.accounts, accountID)
	for id, cal := range c.calendars {
		if cal.AccountID == accountID {
			delete(c.calendars, id)
		}
	}
	for id, ev := range c.events {
		if ev.AccountID == accountID {
			delete(c.events, id)
		}
	}
	return nil
}

// HasAccount reports whether the provider still knows accountID.
func (c *MockClient) HasAccount(accountID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.accounts[accountID]
	return ok
}

func (c *MockClient) ListCalendars(ctx context.Context, accessToken string) ([]Calendar, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	accountID, err := c.accountFor(accessToken)
	if err != nil {
		return nil, err
	}

	var out []Calendar
	for _, cal := range c.calendars {
		if cal.AccountID == accountID {
			out = append(out, *cal)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *MockClient) GetCalendar(ctx context.Context, accessToken, calendarID string) (*Calendar, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	accountID, err := c.accountFor(accessToken)
	if err != nil {
		return nil, err
	}
	cal, ok := c.calendars[calendarID]
	if !ok || cal.AccountID != accountID {
		return nil, apperrors.ErrNotFound.WithError(fmt.Errorf("calendar %s", calendarID))
	}
	out := *cal
	return &out, nil
}

func (c *MockClient) CreateCalendar(ctx context.Context, accessToken string, req *CreateCalendarRequest) (*Calendar, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	accountID, err := c.accountFor(accessToken)
	if err != nil {
		return nil, err
	}
	cal := &Calendar{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		Name:        req.Name,
		Description: req.Description,
		Timezone:    req.Timezone,
	}
	c.calendars[cal.ID] = cal
	out := *cal
	return &out, nil
}

// SeedCalendar stores cal as if it had been created at the provider.
func (c *MockClient) SeedCalendar(cal Calendar) Calendar {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cal.ID == "" {
		cal.ID = uuid.New().String()
	}
	c.calendars[cal.ID] = &cal
	return cal
}

// RemoveCalendar deletes a calendar and its events as if the user had
// removed it at the provider.
func (c *MockClient) RemoveCalendar(calendarID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.calendars, calendarID)
	for id, ev := range c.events {
		if ev.CalendarID == calendarID {
			delete(c.events, id)
		}
	}
}

func (c *MockClient) ListEvents(ctx context.Context, accessToken string, params ListEventsParams) ([]Event, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, err := c.accountFor(accessToken); err != nil {
		return nil, err
	}

	var out []Event
	for _, ev := range c.events {
		if ev.CalendarID != params.CalendarID {
			continue
		}
		if !params.StartsAfter.IsZero() && ev.When.StartTime < params.StartsAfter.Unix() {
			continue
		}
		out = append(out, *ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *MockClient) GetEvent(ctx context.Context, accessToken, eventID string) (*Event, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, err := c.accountFor(accessToken); err != nil {
		return nil, err
	}
	ev, ok := c.events[eventID]
	if !ok {
		return nil, apperrors.ErrNotFound.WithError(fmt.Errorf("event %s", eventID))
	}
	out := *ev
	return &out, nil
}

func (c *MockClient) CreateOrUpdateEvent(ctx context.Context, accessToken string, event *Event) (*Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	accountID, err := c.accountFor(accessToken)
	if err != nil {
		return nil, err
	}
	if _, ok := c.calendars[event.CalendarID]; !ok {
		return nil, apperrors.ErrNotFound.WithError(fmt.Errorf("calendar %s", event.CalendarID))
	}

	ev := *event
	ev.AccountID = accountID
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	} else if _, ok := c.events[ev.ID]; !ok {
		return nil, apperrors.ErrNotFound.WithError(fmt.Errorf("event %s", ev.ID))
	}
	c.events[ev.ID] = &ev
	out := ev
	return &out, nil
}

// SeedEvent stores ev as if it had been created at the provider.
func (c *MockClient) SeedEvent(ev Event) Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if cal, ok := c.calendars[ev.CalendarID]; ok {
		ev.AccountID = cal.AccountID
	}
	c.events[ev.ID] = &ev
	return ev
}

// RemoveEvent deletes an event as if the user had removed it at the provider.
func (c *MockClient) RemoveEvent(eventID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.events, eventID)
}

// EventCount returns the number of events stored for a calendar.
func (c *MockClient) EventCount(calendarID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, ev := range c.events {
		if ev.CalendarID == calendarID {
			n++
		}
	}
	return n
}
