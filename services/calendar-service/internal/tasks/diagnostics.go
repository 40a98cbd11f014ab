package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/Rohianon/uou/pkg/errors"
)

const diagnosticsKeyPrefix = "diagnostics:"

// DiagnosticsReport compares a calendar's local state with the provider's.
type DiagnosticsReport struct {
	RunID                 string    `json:"run_id"`
	CalendarID            string    `json:"calendar_id"`
	AccountID             string    `json:"account_id"`
	SyncState             string    `json:"sync_state,omitempty"`
	ProviderCalendarFound bool      `json:"provider_calendar_found"`
	ProviderEvents        int       `json:"provider_events"`
	LocalEvents           int       `json:"local_events"`
	Problems              []string  `json:"problems,omitempty"`
	CheckedAt             time.Time `json:"checked_at"`
}

// Healthy reports whether the run found no problems.
func (r DiagnosticsReport) Healthy() bool {
	return len(r.Problems) == 0
}

// DiagnosticsStore keeps diagnostics reports until they expire.
type DiagnosticsStore interface {
	Save(ctx context.Context, report DiagnosticsReport) error
	// Get returns ErrNotFound while the run has not finished or after its
	// report expired.
	Get(ctx context.Context, runID string) (*DiagnosticsReport, error)
}

// RedisDiagnosticsStore stores reports as JSON with a TTL
type RedisDiagnosticsStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisDiagnosticsStore(client redis.Cmdable, ttl time.Duration) *RedisDiagnosticsStore {
	return &RedisDiagnosticsStore{client: client, ttl: ttl}
}

func (s *RedisDiagnosticsStore) Save(ctx context.Context, report DiagnosticsReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal diagnostics report: %w", err)
	}
	if err := s.client.Set(ctx, diagnosticsKeyPrefix+report.RunID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save diagnostics report: %w", err)
	}
	return nil
}

func (s *RedisDiagnosticsStore) Get(ctx context.Context, runID string) (*DiagnosticsReport, error) {
	data, err := s.client.Get(ctx, diagnosticsKeyPrefix+runID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.ErrNotFound.Withf("diagnostics run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get diagnostics report: %w", err)
	}

	var report DiagnosticsReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode diagnostics report: %w", err)
	}
	return &report, nil
}
