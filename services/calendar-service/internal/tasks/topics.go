package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/Rohianon/uou/pkg/errors"
)

// Topics shared by the dispatcher and the consumers
const (
	TopicImportAllCalendars        = "uou.tasks.import-all-calendars"
	TopicChangeCalendar            = "uou.tasks.change-calendar"
	TopicExportCalendars           = "uou.tasks.export-calendars"
	TopicSyncAllEvents             = "uou.tasks.sync-all-events"
	TopicChangeEvent               = "uou.tasks.change-event"
	TopicDeleteAccount             = "uou.tasks.delete-account"
	TopicUpdateAllSubaccountTokens = "uou.tasks.update-all-subaccount-tokens"
	TopicUpdateSubaccountToken     = "uou.tasks.update-subaccount-token"
	TopicUpdateAccountSyncState    = "uou.tasks.update-account-sync-state"
	TopicMaintenance               = "uou.tasks.maintenance"
	TopicDiagnostics               = "uou.tasks.diagnostics"
)

// Actions discriminate tasks on topics that carry more than one kind
const (
	ActionImport               = "import"
	ActionDelete               = "delete"
	ActionExport               = "export"
	ActionAdvanceActivePeriod  = "advance-active-period"
	ActionRefreshExpiredTokens = "refresh-expired-tokens"
)

// HeaderTaskID carries the envelope's task id on the broker message.
const HeaderTaskID = "x-task-id"

// Envelope is the JSON value of every task message.
type Envelope struct {
	TaskID     string          `json:"task_id"`
	Action     string          `json:"action,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	LockToken  string          `json:"lock_token,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// decodeEnvelope parses a message value. Malformed input is a validation
// error so it is dead-lettered without retries.
func decodeEnvelope(value []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return Envelope{}, apperrors.ErrValidation.WithError(fmt.Errorf("malformed task envelope: %w", err))
	}
	return env, nil
}

func decodePayload[T any](env Envelope) (T, error) {
	var p T
	if len(env.Payload) == 0 {
		return p, apperrors.ErrValidation.WithError(fmt.Errorf("task %s has no payload", env.TaskID))
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return p, apperrors.ErrValidation.WithError(fmt.Errorf("malformed payload for task %s: %w", env.TaskID, err))
	}
	return p, nil
}
