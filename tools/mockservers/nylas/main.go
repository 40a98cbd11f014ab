package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/google/uuid"
)

// =============================================================================
// Sync Provider Mock Server
// =============================================================================
// This server simulates the calendar sync provider API for integration
// testing. It supports:
// - Connecting accounts (authorize + token exchange)
// - Account lookup and deletion
// - Calendars and events per account
// - Pushing signed change notifications to the calendar service
// =============================================================================

type Account struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Email            string `json:"email_address"`
	Provider         string `json:"provider"`
	SyncState        string `json:"sync_state"`
	OrganizationUnit string `json:"organization_unit"`
}

type Calendar struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	ReadOnly    bool   `json:"read_only"`
	IsPrimary   bool   `json:"is_primary"`
}

type When struct {
	StartTime int64 `json:"start_time"`
	EndTime   int64 `json:"end_time"`
}

type Event struct {
	ID         string `json:"id"`
	AccountID  string `json:"account_id"`
	CalendarID string `json:"calendar_id"`
	Title      string `json:"title"`
	Status     string `json:"status,omitempty"`
	ReadOnly   bool   `json:"read_only,omitempty"`
	When       When   `json:"when"`
}

type pendingConnect struct {
	name     string
	email    string
	provider string
}

type Server struct {
	mu           sync.RWMutex
	clientID     string
	clientSecret string
	webhookURL   string

	accounts  map[string]*Account
	byEmail   map[string]string // provider/email -> account id
	tokens    map[string]string // access token -> account id
	codes     map[string]pendingConnect
	calendars map[string]*Calendar
	events    map[string]*Event
	rejected  map[string]string // email -> rejection message
}

func NewServer(clientID, clientSecret, webhookURL string) *Server {
	s := &Server{
		clientID:     clientID,
		clientSecret: clientSecret,
		webhookURL:   webhookURL,
	}
	s.resetLocked()
	return s
}

func (s *Server) resetLocked() {
	s.accounts = make(map[string]*Account)
	s.byEmail = make(map[string]string)
	s.tokens = make(map[string]string)
	s.codes = make(map[string]pendingConnect)
	s.calendars = make(map[string]*Calendar)
	s.events = make(map[string]*Event)
	s.rejected = make(map[string]string)
}

func main() {
	server := NewServer(
		envOr("CLIENT_ID", "mock-client"),
		envOr("CLIENT_SECRET", "mock-secret"),
		os.Getenv("WEBHOOK_URL"),
	)

	app := fiber.New(fiber.Config{
		AppName: "Sync Provider Mock Server",
	})

	app.Use(logger.New())

	// Connect
	app.Post("/connect/authorize", server.authorize)
	app.Post("/connect/token", server.token)

	// Application-authenticated account management
	app.Delete("/a/:clientId/accounts/:id", server.requireApp, server.deleteAccount)

	// Account-authenticated API
	api := app.Group("", server.requireAccount)
	api.Get("/account", server.getAccount)
	api.Get("/calendars", server.listCalendars)
	api.Get("/calendars/:id", server.getCalendar)
	api.Post("/calendars", server.createCalendar)
	api.Get("/events", server.listEvents)
	api.Get("/events/:id", server.getEvent)
	api.Post("/events", server.upsertEvent)
	api.Put("/events/:id", server.upsertEvent)

	// Admin endpoints
	app.Post("/admin/reset", server.reset)
	app.Get("/admin/state", server.getState)
	app.Post("/admin/reject", server.reject)
	app.Post("/admin/accounts/:id/sync-state", server.setSyncState)
	app.Post("/admin/notify", server.notify)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	port := envOr("PORT", "8090")
	log.Printf("Sync provider mock server starting on port %s", port)
	log.Fatal(app.Listen(":" + port))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func apiError(c *fiber.Ctx, status int, typ, message string) error {
	return c.Status(status).JSON(fiber.Map{"type": typ, "message": message})
}

// =============================================================================
// Authentication
// =============================================================================

func (s *Server) requireApp(c *fiber.Ctx) error {
	user, _, ok := basicAuth(c.Get(fiber.HeaderAuthorization))
	if !ok || user != s.clientSecret {
		return apiError(c, fiber.StatusUnauthorized, "api_error", "Invalid client secret")
	}
	if c.Params("clientId") != s.clientID {
		return apiError(c, fiber.StatusNotFound, "invalid_request_error", "Unknown application")
	}
	return c.Next()
}

func basicAuth(header string) (string, string, bool) {
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", header)
	return req.BasicAuth()
}

func (s *Server) requireAccount(c *fiber.Ctx) error {
	token, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	if !ok {
		return apiError(c, fiber.StatusUnauthorized, "api_error", "Missing access token")
	}

	s.mu.RLock()
	accountID, ok := s.tokens[token]
	s.mu.RUnlock()
	if !ok {
		return apiError(c, fiber.StatusUnauthorized, "api_error", "Invalid access token")
	}

	c.Locals("account_id", accountID)
	return c.Next()
}

func accountID(c *fiber.Ctx) string {
	id, _ := c.Locals("account_id").(string)
	return id
}

// =============================================================================
// Connect
// =============================================================================

func (s *Server) authorize(c *fiber.Ctx) error {
	var req struct {
		ClientID string         `json:"client_id"`
		Name     string         `json:"name"`
		Email    string         `json:"email_address"`
		Provider string         `json:"provider"`
		Settings map[string]any `json:"settings"`
	}
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, fiber.StatusBadRequest, "invalid_request_error", "Invalid request")
	}
	if req.ClientID != s.clientID {
		return apiError(c, fiber.StatusBadRequest, "invalid_request_error", "Unknown client_id")
	}
	if req.Email == "" || req.Provider == "" {
		return apiError(c, fiber.StatusBadRequest, "invalid_request_error", "email_address and provider are required")
	}

	email := strings.ToLower(req.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if msg, ok := s.rejected[email]; ok {
		return apiError(c, fiber.StatusForbidden, "auth_error", msg)
	}

	code := uuid.NewString()
	s.codes[code] = pendingConnect{name: req.Name, email: email, provider: req.Provider}
	return c.JSON(fiber.Map{"code": code})
}

func (s *Server) token(c *fiber.Ctx) error {
	var req struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
		Code         string `json:"code"`
	}
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, fiber.StatusBadRequest, "invalid_request_error", "Invalid request")
	}
	if req.ClientID != s.clientID || req.ClientSecret != s.clientSecret {
		return apiError(c, fiber.StatusUnauthorized, "api_error", "Invalid client credentials")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.codes[req.Code]
	if !ok {
		return apiError(c, fiber.StatusBadRequest, "invalid_request_error", "Invalid or used code")
	}
	delete(s.codes, req.Code)

	// Reconnecting the same mailbox keeps its account id.
	key := pending.provider + "/" + pending.email
	id, ok := s.byEmail[key]
	if !ok {
		id = strings.ReplaceAll(uuid.NewString(), "-", "")
		s.byEmail[key] = id
		s.accounts[id] = &Account{
			ID:               id,
			Email:            pending.email,
			Provider:         pending.provider,
			OrganizationUnit: "calendar",
		}
		s.seedCalendarLocked(id, pending.name)
	}
	account := s.accounts[id]
	if pending.name != "" {
		account.Name = pending.name
	}
	account.SyncState = "running"

	accessToken := uuid.NewString()
	s.tokens[accessToken] = id

	return c.JSON(fiber.Map{
		"account_id":    id,
		"access_token":  accessToken,
		"email_address": account.Email,
		"provider":      account.Provider,
	})
}

func (s *Server) seedCalendarLocked(accountID, name string) {
	if name == "" {
		name = "Calendar"
	}
	cal := &Calendar{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Name:      name,
		Timezone:  "UTC",
		IsPrimary: true,
	}
	s.calendars[cal.ID] = cal
}

// =============================================================================
// Accounts
// =============================================================================

func (s *Server) getAccount(c *fiber.Ctx) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[accountID(c)]
	if !ok {
		return apiError(c, fiber.StatusNotFound, "not_found", "Account not found")
	}
	return c.JSON(account)
}

func (s *Server) deleteAccount(c *fiber.Ctx) error {
	id := c.Params("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return apiError(c, fiber.StatusNotFound, "not_found", "Account not found")
	}

	delete(s.accounts, id)
	delete(s.byEmail, account.Provider+"/"+account.Email)
	for token, owner := range s.tokens {
		if owner == id {
			delete(s.tokens, token)
		}
	}
	for calID, cal := range s.calendars {
		if cal.AccountID == id {
			delete(s.calendars, calID)
		}
	}
	for eventID, ev := range s.events {
		if ev.AccountID == id {
			delete(s.events, eventID)
		}
	}
	return c.JSON(fiber.Map{"success": true})
}

// =============================================================================
// Calendars
// =============================================================================

func (s *Server) listCalendars(c *fiber.Ctx) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owner := accountID(c)
	calendars := make([]*Calendar, 0)
	for _, cal := range s.calendars {
		if cal.AccountID == owner {
			calendars = append(calendars, cal)
		}
	}
	sort.Slice(calendars, func(i, j int) bool { return calendars[i].ID < calendars[j].ID })
	return c.JSON(calendars)
}

func (s *Server) getCalendar(c *fiber.Ctx) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cal, ok := s.calendars[c.Params("id")]
	if !ok || cal.AccountID != accountID(c) {
		return apiError(c, fiber.StatusNotFound, "not_found", "Calendar not found")
	}
	return c.JSON(cal)
}

func (s *Server) createCalendar(c *fiber.Ctx) error {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Timezone    string `json:"timezone"`
	}
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return apiError(c, fiber.StatusBadRequest, "invalid_request_error", "name is required")
	}

	cal := &Calendar{
		ID:          uuid.NewString(),
		AccountID:   accountID(c),
		Name:        req.Name,
		Description: req.Description,
		Timezone:    req.Timezone,
	}

	s.mu.Lock()
	s.calendars[cal.ID] = cal
	s.mu.Unlock()

	return c.Status(fiber.StatusOK).JSON(cal)
}

// =============================================================================
// Events
// =============================================================================

func (s *Server) listEvents(c *fiber.Ctx) error {
	owner := accountID(c)
	calendarID := c.Query("calendar_id")
	limit := c.QueryInt("limit", 100)
	offset := c.QueryInt("offset", 0)
	startsAfter := int64(c.QueryInt("starts_after", 0))

	s.mu.RLock()
	matched := make([]*Event, 0)
	for _, ev := range s.events {
		if ev.AccountID != owner || (calendarID != "" && ev.CalendarID != calendarID) {
			continue
		}
		if startsAfter > 0 && ev.When.StartTime <= startsAfter {
			continue
		}
		matched = append(matched, ev)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].When.StartTime != matched[j].When.StartTime {
			return matched[i].When.StartTime < matched[j].When.StartTime
		}
		return matched[i].ID < matched[j].ID
	})

	if offset >= len(matched) {
		return c.JSON([]*Event{})
	}
	end := min(offset+limit, len(matched))
	return c.JSON(matched[offset:end])
}

func (s *Server) getEvent(c *fiber.Ctx) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[c.Params("id")]
	if !ok || ev.AccountID != accountID(c) {
		return apiError(c, fiber.StatusNotFound, "not_found", "Event not found")
	}
	return c.JSON(ev)
}

func (s *Server) upsertEvent(c *fiber.Ctx) error {
	var ev Event
	if err := c.BodyParser(&ev); err != nil {
		return apiError(c, fiber.StatusBadRequest, "invalid_request_error", "Invalid event")
	}
	if ev.When.EndTime < ev.When.StartTime {
		return apiError(c, fiber.StatusBadRequest, "invalid_request_error", "end_time is before start_time")
	}

	owner := accountID(c)

	s.mu.Lock()
	defer s.mu.Unlock()

	cal, ok := s.calendars[ev.CalendarID]
	if !ok || cal.AccountID != owner {
		return apiError(c, fiber.StatusNotFound, "not_found", "Calendar not found")
	}
	if cal.ReadOnly {
		return apiError(c, fiber.StatusForbidden, "access_denied", "Calendar is read only")
	}

	if id := c.Params("id"); id != "" {
		existing, ok := s.events[id]
		if !ok || existing.AccountID != owner {
			return apiError(c, fiber.StatusNotFound, "not_found", "Event not found")
		}
		ev.ID = id
	} else {
		ev.ID = uuid.NewString()
	}
	ev.AccountID = owner
	if ev.Status == "" {
		ev.Status = "confirmed"
	}
	s.events[ev.ID] = &ev

	return c.JSON(ev)
}

// =============================================================================
// Admin
// =============================================================================

func (s *Server) reset(c *fiber.Ctx) error {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()

	return c.JSON(fiber.Map{"status": "reset complete"})
}

func (s *Server) getState(c *fiber.Ctx) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return c.JSON(fiber.Map{
		"accounts":  s.accounts,
		"calendars": s.calendars,
		"events":    s.events,
	})
}

// reject makes future connects for an email fail with a message.
func (s *Server) reject(c *fiber.Ctx) error {
	var req struct {
		Email   string `json:"email"`
		Message string `json:"message"`
	}
	if err := c.BodyParser(&req); err != nil || req.Email == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "email is required"})
	}
	if req.Message == "" {
		req.Message = "Account authentication failed"
	}

	s.mu.Lock()
	s.rejected[strings.ToLower(req.Email)] = req.Message
	s.mu.Unlock()

	return c.JSON(fiber.Map{"status": "rejecting", "email": req.Email})
}

func (s *Server) setSyncState(c *fiber.Ctx) error {
	var req struct {
		SyncState string `json:"sync_state"`
	}
	if err := c.BodyParser(&req); err != nil || req.SyncState == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "sync_state is required"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[c.Params("id")]
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "Account not found"})
	}
	account.SyncState = req.SyncState
	return c.JSON(account)
}

// notify posts a signed change notification to WEBHOOK_URL.
func (s *Server) notify(c *fiber.Ctx) error {
	var req struct {
		Type      string `json:"type"`
		AccountID string `json:"account_id"`
		ObjectID  string `json:"object_id"`
	}
	if err := c.BodyParser(&req); err != nil || req.Type == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "type is required"})
	}
	if s.webhookURL == "" {
		return c.Status(fiber.StatusPreconditionFailed).JSON(fiber.Map{"message": "WEBHOOK_URL is not set"})
	}

	object, _, _ := strings.Cut(req.Type, ".")
	body, err := json.Marshal(fiber.Map{
		"deltas": []fiber.Map{{
			"date":   time.Now().Unix(),
			"object": object,
			"type":   req.Type,
			"object_data": fiber.Map{
				"id":         req.ObjectID,
				"account_id": req.AccountID,
				"object":     object,
			},
		}},
	})
	if err != nil {
		return err
	}

	mac := hmac.New(sha256.New, []byte(s.clientSecret))
	mac.Write(body)

	httpReq, err := http.NewRequestWithContext(c.UserContext(), http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Nylas-Signature", hex.EncodeToString(mac.Sum(nil)))

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"message": fmt.Sprintf("delivery failed: %v", err)})
	}
	defer resp.Body.Close()

	return c.JSON(fiber.Map{"status": "delivered", "webhook_status": resp.StatusCode})
}
