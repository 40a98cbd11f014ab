package tasks

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/Rohianon/uou/pkg/errors"
	"github.com/Rohianon/uou/pkg/events"
	"github.com/Rohianon/uou/pkg/logger"
)

// Consumer binds one topic to its handler and retry policy. Each consumer
// reads with its own consumer group.
type Consumer struct {
	Topic  string
	Group  string
	Policy RetryPolicy
	Handle events.Handler
}

// Consumers lists every task consumer. base supplies attempts and backoff;
// exclusions are chosen per consumer.
func Consumers(h *Handlers, base RetryPolicy) []Consumer {
	defaults := DefaultExclusions()

	// Calendars appear at the provider shortly after the account does, so a
	// full import retries a calendar that is not found yet.
	importAll := base.WithExclusions(Excluding(defaults, apperrors.ErrCalendarNotFound))
	// An event can arrive before the calendar it belongs to is imported.
	changeEvent := base.WithExclusions(Excluding(defaults, apperrors.ErrCalendarNotFound))
	// Exports keep account-not-found terminal: a deleted account never
	// accepts them. The import side may see an account that is still being
	// written, so it retries.
	importOne := base.WithExclusions(Excluding(defaults, apperrors.ErrAccountNotFound))

	return []Consumer{
		{
			Topic:  TopicImportAllCalendars,
			Group:  "import-all-calendars",
			Policy: named(importAll, "import-all-calendars"),
			Handle: handle(func(ctx context.Context, env Envelope) error {
				p, err := decodePayload[ImportAllCalendarsParams](env)
				if err != nil {
					return err
				}
				return h.ImportAllCalendars(ctx, p, env.LockToken)
			}),
		},
		{
			Topic:  TopicChangeCalendar,
			Group:  "change-calendar",
			Policy: named(importOne, "change-calendar"),
			Handle: handle(func(ctx context.Context, env Envelope) error {
				p, err := decodePayload[ChangeCalendarParams](env)
				if err != nil {
					return err
				}
				switch env.Action {
				case ActionImport:
					return h.ImportCalendar(ctx, p)
				case ActionDelete:
					return h.DeleteCalendar(ctx, p)
				}
				return unknownAction(env)
			}),
		},
		{
			Topic:  TopicExportCalendars,
			Group:  "export-calendars",
			Policy: named(base.WithExclusions(defaults), "export-calendars"),
			Handle: handle(func(ctx context.Context, env Envelope) error {
				p, err := decodePayload[ExportCalendarsParams](env)
				if err != nil {
					return err
				}
				return h.ExportCalendars(ctx, p)
			}),
		},
		{
			Topic:  TopicSyncAllEvents,
			Group:  "sync-all-events",
			Policy: named(importOne, "sync-all-events"),
			Handle: handle(func(ctx context.Context, env Envelope) error {
				p, err := decodePayload[SyncAllEventsParams](env)
				if err != nil {
					return err
				}
				return h.SyncAllEvents(ctx, p)
			}),
		},
		{
			Topic:  TopicChangeEvent,
			Group:  "change-event",
			Policy: named(changeEvent, "change-event"),
			Handle: handle(func(ctx context.Context, env Envelope) error {
				switch env.Action {
				case ActionImport, ActionDelete:
					p, err := decodePayload[ChangeEventParams](env)
					if err != nil {
						return err
					}
					if env.Action == ActionImport {
						return h.ImportEvent(ctx, p)
					}
					return h.DeleteEvent(ctx, p)
				case ActionExport:
					p, err := decodePayload[ExportEventParams](env)
					if err != nil {
						return err
					}
					return h.ExportEvent(ctx, p)
				}
				return unknownAction(env)
			}),
		},
		{
			Topic:  TopicDeleteAccount,
			Group:  "delete-account",
			Policy: named(base.WithExclusions(defaults), "delete-account"),
			Handle: handle(func(ctx context.Context, env Envelope) error {
				p, err := decodePayload[DeleteAccountParams](env)
				if err != nil {
					return err
				}
				return h.DeleteAccount(ctx, p)
			}),
		},
		{
			Topic:  TopicUpdateAllSubaccountTokens,
			Group:  "update-all-subaccount-tokens",
			Policy: named(base.WithExclusions(defaults), "update-all-subaccount-tokens"),
			Handle: handle(func(ctx context.Context, env Envelope) error {
				p, err := decodePayload[UpdateAllSubaccountTokensParams](env)
				if err != nil {
					return err
				}
				return h.UpdateAllSubaccountTokens(ctx, p)
			}),
		},
		{
			Topic:  TopicUpdateSubaccountToken,
			Group:  "update-subaccount-token",
			Policy: named(base.WithExclusions(defaults), "update-subaccount-token"),
			Handle: handle(func(ctx context.Context, env Envelope) error {
				p, err := decodePayload[UpdateSubaccountTokenParams](env)
				if err != nil {
					return err
				}
				return h.UpdateSubaccountToken(ctx, p)
			}),
		},
		{
			Topic:  TopicUpdateAccountSyncState,
			Group:  "update-account-sync-state",
			Policy: named(base.WithExclusions(defaults), "update-account-sync-state"),
			Handle: handle(func(ctx context.Context, env Envelope) error {
				p, err := decodePayload[UpdateAccountSyncStateParams](env)
				if err != nil {
					return err
				}
				return h.UpdateAccountSyncState(ctx, p)
			}),
		},
		{
			Topic:  TopicMaintenance,
			Group:  "maintenance",
			Policy: named(base.WithExclusions(defaults), "maintenance"),
			Handle: handle(func(ctx context.Context, env Envelope) error {
				switch env.Action {
				case ActionAdvanceActivePeriod:
					return h.AdvanceActivePeriod(ctx)
				case ActionRefreshExpiredTokens:
					return h.RefreshExpiredTokens(ctx)
				}
				return unknownAction(env)
			}),
		},
		{
			Topic:  TopicDiagnostics,
			Group:  "diagnostics",
			Policy: named(base.WithExclusions(defaults), "diagnostics"),
			Handle: handle(func(ctx context.Context, env Envelope) error {
				p, err := decodePayload[DiagnosticsParams](env)
				if err != nil {
					return err
				}
				return h.RunDiagnostics(ctx, p)
			}),
		},
	}
}

func named(p RetryPolicy, name string) RetryPolicy {
	p.Name = name
	return p
}

// handle decodes the envelope and tags the context with the task's
// identity before running fn.
func handle(fn func(ctx context.Context, env Envelope) error) events.Handler {
	return func(ctx context.Context, msg events.Message) error {
		env, err := decodeEnvelope(msg.Value)
		if err != nil {
			return err
		}

		ctx = logger.ContextWithFields(ctx,
			"task_id", env.TaskID,
			"topic", msg.OriginalTopic(),
			"partition", strconv.Itoa(msg.Partition),
			"offset", strconv.FormatInt(msg.Offset, 10),
			"attempt", strconv.Itoa(msg.Attempt()),
		)
		if env.Action != "" {
			ctx = logger.ContextWithFields(ctx, "action", env.Action)
		}
		return fn(ctx, env)
	}
}

func unknownAction(env Envelope) error {
	return apperrors.ErrValidation.WithError(fmt.Errorf("task %s has unknown action %q", env.TaskID, env.Action))
}

// GroupID is the consumer group a consumer reads with.
func GroupID(prefix string, c Consumer) string {
	if prefix == "" {
		return c.Group
	}
	return strings.TrimSuffix(prefix, ".") + "." + c.Group
}

// SubscriberFactory creates one subscriber per consumer group.
type SubscriberFactory func(groupID string) events.Subscriber

// Start subscribes every consumer whose group is enabled. An empty enabled
// list starts all of them. The returned subscribers must be closed on
// shutdown.
func Start(ctx context.Context, consumers []Consumer, groupPrefix string, enabled []string, newSubscriber SubscriberFactory) ([]events.Subscriber, error) {
	want := make(map[string]bool, len(enabled))
	for _, g := range enabled {
		want[strings.TrimSpace(g)] = true
	}

	var started []events.Subscriber
	for _, c := range consumers {
		if len(want) > 0 && !want[c.Group] {
			continue
		}

		sub := newSubscriber(GroupID(groupPrefix, c))
		if err := sub.Subscribe(ctx, c.Topic, c.Policy, c.Handle); err != nil {
			for _, s := range started {
				_ = s.Close()
			}
			_ = sub.Close()
			return nil, fmt.Errorf("failed to subscribe %s: %w", c.Group, err)
		}
		started = append(started, sub)

		logger.Info().
			Str("topic", c.Topic).
			Str("group", GroupID(groupPrefix, c)).
			Int("max_attempts", c.Policy.MaxAttempts()).
			Msg("task consumer started")
	}
	return started, nil
}
