package integration

import (
	"encoding/base64"
	"fmt"
	"testing"
	"time"
)

func setupSyncProvider(t *testing.T) *Harness {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	h := NewHarness(t)

	if err := h.WaitForSyncProvider(30 * time.Second); err != nil {
		t.Skipf("Sync provider mock not available: %v", err)
	}

	if err := h.ResetSyncProvider(); err != nil {
		t.Fatalf("Failed to reset: %v", err)
	}
	return h
}

func basicAuth(user string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"))
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestSyncProviderConnectAccount(t *testing.T) {
	h := setupSyncProvider(t)

	accountID, token := h.ConnectAccount("Ops@Contoso.com", "Ops")

	resp, err := h.Do(Request{
		Method:  "GET",
		URL:     h.Config().SyncProviderURL + "/account",
		Headers: bearer(token),
	})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	h.AssertStatus(resp, 200)
	h.AssertJSONField(resp, "id", accountID)
	h.AssertJSONField(resp, "email_address", "ops@contoso.com")
	h.AssertJSONField(resp, "sync_state", "running")

	// Reconnecting the same mailbox keeps the account id.
	again, _ := h.ConnectAccount("ops@contoso.com", "Ops")
	if again != accountID {
		t.Errorf("Expected reconnect to keep account %s, got %s", accountID, again)
	}
}

func TestSyncProviderCodeIsSingleUse(t *testing.T) {
	h := setupSyncProvider(t)

	resp, err := h.Do(Request{
		Method: "POST",
		URL:    h.Config().SyncProviderURL + "/connect/authorize",
		Body: map[string]any{
			"client_id":     h.Config().ClientID,
			"email_address": "ops@contoso.com",
			"provider":      "exchange",
		},
	})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	var authz struct {
		Code string `json:"code"`
	}
	if err := resp.JSON(&authz); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	exchange := func() *Response {
		resp, err := h.Do(Request{
			Method: "POST",
			URL:    h.Config().SyncProviderURL + "/connect/token",
			Body: map[string]any{
				"client_id":     h.Config().ClientID,
				"client_secret": h.Config().ClientSecret,
				"code":          authz.Code,
			},
		})
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		return resp
	}

	h.AssertStatus(exchange(), 200)
	h.AssertStatus(exchange(), 400)
}

func TestSyncProviderRejectedMailbox(t *testing.T) {
	h := setupSyncProvider(t)

	resp, err := h.Do(Request{
		Method: "POST",
		URL:    h.Config().SyncProviderURL + "/admin/reject",
		Body:   map[string]any{"email": "gone@contoso.com", "message": "Mailbox was disabled"},
	})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	h.AssertStatus(resp, 200)

	resp, err = h.Do(Request{
		Method: "POST",
		URL:    h.Config().SyncProviderURL + "/connect/authorize",
		Body: map[string]any{
			"client_id":     h.Config().ClientID,
			"email_address": "gone@contoso.com",
			"provider":      "exchange",
		},
	})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	h.AssertStatus(resp, 403)
	h.AssertJSONField(resp, "message", "Mailbox was disabled")
}

func TestSyncProviderEventsPaging(t *testing.T) {
	h := setupSyncProvider(t)
	_, token := h.ConnectAccount("ops@contoso.com", "Ops")

	resp, err := h.Do(Request{
		Method:  "GET",
		URL:     h.Config().SyncProviderURL + "/calendars",
		Headers: bearer(token),
	})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	h.AssertStatus(resp, 200)

	var calendars []map[string]any
	if err := resp.JSON(&calendars); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(calendars) != 1 || calendars[0]["is_primary"] != true {
		t.Fatalf("Expected one primary calendar, got %v", calendars)
	}
	calendarID := calendars[0]["id"].(string)

	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC).Unix()
	for i := range 3 {
		resp, err := h.Do(Request{
			Method:  "POST",
			URL:     h.Config().SyncProviderURL + "/events",
			Headers: bearer(token),
			Body: map[string]any{
				"calendar_id": calendarID,
				"title":       fmt.Sprintf("Standup %d", i),
				"when":        map[string]any{"start_time": start + int64(i)*86400, "end_time": start + int64(i)*86400 + 900},
			},
		})
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		h.AssertStatus(resp, 200)
	}

	resp, err = h.Do(Request{
		Method:  "GET",
		URL:     fmt.Sprintf("%s/events?calendar_id=%s&limit=2&offset=2", h.Config().SyncProviderURL, calendarID),
		Headers: bearer(token),
	})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	h.AssertStatus(resp, 200)

	var page []map[string]any
	if err := resp.JSON(&page); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(page) != 1 || page[0]["title"] != "Standup 2" {
		t.Errorf("Expected the last event on the second page, got %v", page)
	}
}

func TestSyncProviderDeleteAccount(t *testing.T) {
	h := setupSyncProvider(t)
	accountID, token := h.ConnectAccount("ops@contoso.com", "Ops")

	url := fmt.Sprintf("%s/a/%s/accounts/%s", h.Config().SyncProviderURL, h.Config().ClientID, accountID)
	auth := map[string]string{"Authorization": basicAuth(h.Config().ClientSecret)}

	resp, err := h.Do(Request{Method: "DELETE", URL: url, Headers: auth})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	h.AssertStatus(resp, 200)

	resp, err = h.Do(Request{Method: "DELETE", URL: url, Headers: auth})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	h.AssertStatus(resp, 404)

	resp, err = h.Do(Request{
		Method:  "GET",
		URL:     h.Config().SyncProviderURL + "/account",
		Headers: bearer(token),
	})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	h.AssertStatus(resp, 401)
}

func TestSyncProviderUnauthorized(t *testing.T) {
	h := setupSyncProvider(t)

	resp, err := h.Do(Request{
		Method:  "GET",
		URL:     h.Config().SyncProviderURL + "/calendars",
		Headers: bearer("not-a-token"),
	})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	h.AssertStatus(resp, 401)
}
