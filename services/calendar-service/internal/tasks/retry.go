package tasks

import (
	"errors"
	"math"
	"time"

	"github.com/Rohianon/uou/pkg/config"
	apperrors "github.com/Rohianon/uou/pkg/errors"
	"github.com/Rohianon/uou/pkg/events"
)

// Outcome is how a failed task is treated.
type Outcome string

const (
	OutcomeRetry      Outcome = "retry"
	OutcomeDeadLetter Outcome = "dead_letter"
)

// DefaultExclusions are the errors no consumer retries.
func DefaultExclusions() []error {
	return []error{
		apperrors.ErrDoNotRetry,
		apperrors.ErrValidation,
		apperrors.ErrBadRequest,
		apperrors.ErrUnsupportedAuthMethod,
		apperrors.ErrNotFound,
		apperrors.ErrAccountNotFound,
		apperrors.ErrServiceAccountNotFound,
		apperrors.ErrCalendarNotFound,
		apperrors.ErrEventNotFound,
		apperrors.ErrReadOnly,
		apperrors.ErrInternalConsistency,
	}
}

// Excluding returns exclusions without the entries matching any of keep.
func Excluding(exclusions []error, keep ...error) []error {
	out := make([]error, 0, len(exclusions))
	for _, e := range exclusions {
		retained := true
		for _, k := range keep {
			if errors.Is(e, k) {
				retained = false
				break
			}
		}
		if retained {
			out = append(out, e)
		}
	}
	return out
}

// RetryPolicy classifies task failures. It is a plain value owned by one
// consumer and implements events.RetryPolicy for the broker's retry chain.
type RetryPolicy struct {
	Name           string
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Exclusions are matched with errors.Is; a match is never retried.
	Exclusions []error
}

// NewRetryPolicy builds a policy from configuration with the default
// exclusions.
func NewRetryPolicy(name string, cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		Name:           name,
		Attempts:       cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		Multiplier:     cfg.Multiplier,
		Exclusions:     DefaultExclusions(),
	}
}

// WithExclusions returns a copy of p with its own exclusion list.
func (p RetryPolicy) WithExclusions(exclusions []error) RetryPolicy {
	p.Exclusions = exclusions
	return p
}

func (p RetryPolicy) Classify(err error) Outcome {
	if err == nil {
		return ""
	}
	for _, e := range p.Exclusions {
		if errors.Is(err, e) {
			return OutcomeDeadLetter
		}
	}
	return OutcomeRetry
}

func (p RetryPolicy) Retryable(err error) bool {
	return p.Classify(err) == OutcomeRetry
}

func (p RetryPolicy) MaxAttempts() int {
	return max(p.Attempts, 1)
}

// backoffCeiling caps Backoff when MaxBackoff is unset.
const backoffCeiling = 24 * time.Hour

// Backoff grows by Multiplier per attempt from InitialBackoff and is capped
// at MaxBackoff, or at backoffCeiling when MaxBackoff is unset.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.InitialBackoff <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	limit := p.MaxBackoff
	if limit <= 0 {
		limit = backoffCeiling
	}
	d := float64(p.InitialBackoff) * math.Pow(mult, float64(max(attempt, 1)-1))
	if d > float64(limit) {
		return limit
	}
	return time.Duration(d)
}

var _ events.RetryPolicy = RetryPolicy{}
