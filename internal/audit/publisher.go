// Package audit publishes the tamper-evident audit trail to the event
// stream. The trail is an external collaborator from the workflow engine's
// perspective: publishing failures alert but never block a transition.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridianrx/dispense/internal/infrastructure/redpanda"
	"github.com/meridianrx/dispense/pkg/circuitbreaker"
)

// Entry is one audit trail record. Entries are append-only; there is no
// update or delete path anywhere in this package.
type Entry struct {
	ID           string                 `json:"id"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Actor        string                 `json:"actor"`
	Details      map[string]interface{} `json:"details,omitempty"`
	RecordedAt   time.Time              `json:"recorded_at"`
}

// Publisher writes audit entries to the audit trail topic through a
// circuit breaker, so a down broker degrades to logged alerts instead of
// hanging every caller.
type Publisher struct {
	producer *redpanda.Producer
	breaker  *circuitbreaker.CircuitBreaker
	logger   *zap.Logger
	now      func() time.Time
}

// NewPublisher creates an audit publisher over an existing producer.
func NewPublisher(producer *redpanda.Producer, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	breaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("audit-trail"), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit breaker: %w", err)
	}
	return &Publisher{
		producer: producer,
		breaker:  breaker,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Log publishes one audit entry. The returned error tells the caller the
// trail is degraded; the caller decides whether that blocks anything.
func (p *Publisher) Log(ctx context.Context, action, resourceType, resourceID, actor string, details map[string]interface{}) error {
	entry := Entry{
		ID:           uuid.New().String(),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Actor:        actor,
		Details:      details,
		RecordedAt:   p.now().UTC(),
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	_, err = p.breaker.Execute(ctx, func() (interface{}, error) {
		return nil, p.producer.ProduceMessage(ctx, redpanda.TopicAuditTrail, resourceID, payload)
	})
	if err != nil {
		p.logger.Error("audit trail publish failed",
			zap.String("action", action),
			zap.String("resource_id", resourceID),
			zap.Error(err),
		)
		return fmt.Errorf("audit trail degraded: %w", err)
	}
	return nil
}

// Healthy reports whether the breaker is letting traffic through.
func (p *Publisher) Healthy() bool {
	return !p.breaker.IsOpen()
}
