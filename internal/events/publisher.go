// Package events delivers lifecycle events and transaction records to
// external sinks.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "settlement-engine/internal/common/errors"
	"settlement-engine/internal/common/logger"
	"settlement-engine/internal/models"
)

// MessagePublisher is satisfied by aws.SNSClient.
type MessagePublisher interface {
	PublishMessage(ctx context.Context, subject, body string, attributes map[string]string) (string, error)
}

// SNSPublisher sends each lifecycle event as a JSON message. The event name
// is the subject and both the name and contract id are message attributes
// so subscribers can filter.
type SNSPublisher struct {
	client MessagePublisher
	logger logger.Logger
}

func NewSNSPublisher(client MessagePublisher, log logger.Logger) *SNSPublisher {
	return &SNSPublisher{
		client: client,
		logger: logger.ForComponent(log, "sns-publisher"),
	}
}

func (p *SNSPublisher) Publish(ctx context.Context, event models.LifecycleEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	id, err := p.client.PublishMessage(ctx, event.Event, string(body), map[string]string{
		"event":      event.Event,
		"contractId": event.ContractID,
	})
	if err != nil {
		return apperrors.NewExternalServiceError("sns", err)
	}
	p.logger.Debug("Event published", map[string]interface{}{
		"contractId": event.ContractID,
		"event":      event.Event,
		"messageId":  id,
	})
	return nil
}

// NoOp discards events.
type NoOp struct{}

func (NoOp) Publish(context.Context, models.LifecycleEvent) error { return nil }
