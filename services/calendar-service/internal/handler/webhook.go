package handler

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/Rohianon/uou/pkg/errors"
	"github.com/Rohianon/uou/pkg/logger"
	"github.com/Rohianon/uou/services/calendar-service/internal/tasks"
	"github.com/Rohianon/uou/services/calendar-service/internal/types"
)

// WebhookChallenge answers the provider's endpoint verification.
// GET /v1/webhooks/provider?challenge=
func (h *Handler) WebhookChallenge(c *fiber.Ctx) error {
	challenge := c.Query("challenge")
	if challenge == "" {
		return apperrors.ErrBadRequest.WithDetails("challenge is required")
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendString(challenge)
}

// ProviderWebhook turns the provider's change notifications into tasks.
// A failure to schedule any delta fails the delivery so the provider
// redelivers it; every task is idempotent.
// POST /v1/webhooks/provider
func (h *Handler) ProviderWebhook(c *fiber.Ctx) error {
	var hook types.ProviderWebhook
	if err := c.BodyParser(&hook); err != nil {
		logger.WithContext(c.UserContext()).Warn().Err(err).Msg("Failed to parse provider webhook")
		return apperrors.ErrValidation.WithDetails("Invalid webhook body")
	}

	ctx := c.UserContext()
	for _, delta := range hook.Deltas {
		if err := h.dispatchDelta(ctx, delta); err != nil {
			logger.WithContext(ctx).Error().Err(err).
				Str("type", delta.Type).
				Str("account_id", delta.ObjectData.AccountID).
				Msg("Failed to schedule provider notification")
			return apperrors.ErrServiceUnavailable.WithError(err)
		}
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *Handler) dispatchDelta(ctx context.Context, delta types.ProviderNotification) error {
	accountID := delta.ObjectData.AccountID
	objectID := delta.ObjectData.ID
	if accountID == "" {
		logger.WithContext(ctx).Debug().Str("type", delta.Type).Msg("Ignoring notification without account")
		return nil
	}

	object, change, _ := strings.Cut(delta.Type, ".")
	switch object {
	case "calendar":
		p := tasks.ChangeCalendarParams{AccountID: accountID, ExternalCalendarID: objectID, FromProviderNotification: true}
		if change == "deleted" {
			return h.scheduler.DeleteCalendarFromProvider(ctx, p)
		}
		return h.scheduler.ImportCalendarFromProvider(ctx, p)

	case "event":
		p := tasks.ChangeEventParams{AccountID: accountID, ExternalEventID: objectID, FromProviderNotification: true}
		if change == "deleted" {
			return h.scheduler.DeleteEventFromProvider(ctx, p)
		}
		return h.scheduler.ImportEventFromProvider(ctx, p)

	case "account":
		return h.scheduler.UpdateAccountSyncState(ctx, tasks.UpdateAccountSyncStateParams{AccountID: accountID})

	default:
		logger.WithContext(ctx).Debug().Str("type", delta.Type).Msg("Ignoring notification")
		return nil
	}
}
