package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Rohianon/uou/pkg/events"
	"github.com/Rohianon/uou/pkg/logger"
	"github.com/Rohianon/uou/pkg/metrics"
)

// Dispatcher is the Scheduler over Kafka. The message key is the task's
// ordering key, so tasks sharing a key are handled in send order.
type Dispatcher struct {
	publisher events.Publisher
	enabled   bool
	now       func() time.Time
	newID     func() string
	log       zerolog.Logger
}

// NewDispatcher creates a dispatcher. When enabled is false every send is
// logged and dropped, which lets the service run without a broker.
func NewDispatcher(publisher events.Publisher, enabled bool) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		enabled:   enabled,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
		log:       logger.Component("task-dispatcher"),
	}
}

type sendSpec struct {
	topic     string
	action    string
	key       string
	lockToken string
	payload   any
}

func (d *Dispatcher) send(ctx context.Context, s sendSpec) error {
	taskID := d.newID()
	l := d.log.With().
		Str("topic", s.topic).
		Str("action", s.action).
		Str("task_id", taskID).
		Logger()

	if !d.enabled {
		l.Warn().Msg("task dispatching is disabled, dropping task")
		metrics.RecordTaskDropped(s.topic)
		return nil
	}

	payload, err := json.Marshal(s.payload)
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	value, err := json.Marshal(Envelope{
		TaskID:     taskID,
		Action:     s.action,
		OccurredAt: d.now().UTC(),
		LockToken:  s.lockToken,
		Payload:    payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal task envelope: %w", err)
	}

	err = d.publisher.Publish(ctx, events.Message{
		Topic:   s.topic,
		Key:     s.key,
		Value:   value,
		Headers: map[string]string{HeaderTaskID: taskID},
	})
	if err != nil {
		return fmt.Errorf("failed to dispatch task to %s: %w", s.topic, err)
	}

	metrics.RecordTaskDispatched(s.topic, s.action)
	l.Debug().Str("key", s.key).Msg("task dispatched")
	return nil
}

// ImportAllCalendarsFromProvider mints the lock token the import handler
// uses to detect that a newer import superseded it.
func (d *Dispatcher) ImportAllCalendarsFromProvider(ctx context.Context, p ImportAllCalendarsParams) error {
	return d.send(ctx, sendSpec{
		topic:     TopicImportAllCalendars,
		lockToken: uuid.New().String(),
		payload:   p,
	})
}

func (d *Dispatcher) ImportCalendarFromProvider(ctx context.Context, p ChangeCalendarParams) error {
	return d.send(ctx, sendSpec{
		topic:   TopicChangeCalendar,
		action:  ActionImport,
		key:     p.ExternalCalendarID,
		payload: p,
	})
}

func (d *Dispatcher) DeleteCalendarFromProvider(ctx context.Context, p ChangeCalendarParams) error {
	return d.send(ctx, sendSpec{
		topic:   TopicChangeCalendar,
		action:  ActionDelete,
		key:     p.ExternalCalendarID,
		payload: p,
	})
}

// ExportCalendarsToProvider is ordered only when it names a single
// calendar. Batches carry no key.
func (d *Dispatcher) ExportCalendarsToProvider(ctx context.Context, p ExportCalendarsParams) error {
	var key string
	if len(p.CalendarIDs) == 1 {
		key = p.CalendarIDs[0]
	}
	return d.send(ctx, sendSpec{
		topic:   TopicExportCalendars,
		key:     key,
		payload: p,
	})
}

func (d *Dispatcher) SyncAllEventsForCalendar(ctx context.Context, p SyncAllEventsParams) error {
	return d.send(ctx, sendSpec{
		topic:   TopicSyncAllEvents,
		key:     p.CalendarID,
		payload: p,
	})
}

func (d *Dispatcher) ImportEventFromProvider(ctx context.Context, p ChangeEventParams) error {
	return d.send(ctx, sendSpec{
		topic:   TopicChangeEvent,
		action:  ActionImport,
		key:     p.ExternalEventID,
		payload: p,
	})
}

func (d *Dispatcher) DeleteEventFromProvider(ctx context.Context, p ChangeEventParams) error {
	return d.send(ctx, sendSpec{
		topic:   TopicChangeEvent,
		action:  ActionDelete,
		key:     p.ExternalEventID,
		payload: p,
	})
}

// ExportEventToProvider carries no ordering key. The export handler is
// idempotent by event id, so reordering with other changes is tolerated.
func (d *Dispatcher) ExportEventToProvider(ctx context.Context, p ExportEventParams) error {
	return d.send(ctx, sendSpec{
		topic:   TopicChangeEvent,
		action:  ActionExport,
		payload: p,
	})
}

func (d *Dispatcher) DeleteAccountFromProvider(ctx context.Context, p DeleteAccountParams) error {
	return d.send(ctx, sendSpec{topic: TopicDeleteAccount, payload: p})
}

func (d *Dispatcher) UpdateAllSubaccountTokens(ctx context.Context, p UpdateAllSubaccountTokensParams) error {
	return d.send(ctx, sendSpec{topic: TopicUpdateAllSubaccountTokens, payload: p})
}

func (d *Dispatcher) UpdateSubaccountToken(ctx context.Context, p UpdateSubaccountTokenParams) error {
	return d.send(ctx, sendSpec{topic: TopicUpdateSubaccountToken, payload: p})
}

func (d *Dispatcher) UpdateAccountSyncState(ctx context.Context, p UpdateAccountSyncStateParams) error {
	return d.send(ctx, sendSpec{topic: TopicUpdateAccountSyncState, payload: p})
}

func (d *Dispatcher) AdvanceActivePeriod(ctx context.Context) error {
	return d.send(ctx, sendSpec{
		topic:   TopicMaintenance,
		action:  ActionAdvanceActivePeriod,
		payload: struct{}{},
	})
}

func (d *Dispatcher) RefreshExpiredTokens(ctx context.Context) error {
	return d.send(ctx, sendSpec{
		topic:   TopicMaintenance,
		action:  ActionRefreshExpiredTokens,
		payload: struct{}{},
	})
}

func (d *Dispatcher) RunDiagnostics(ctx context.Context, p DiagnosticsParams) error {
	return d.send(ctx, sendSpec{topic: TopicDiagnostics, payload: p})
}

var _ Scheduler = (*Dispatcher)(nil)
