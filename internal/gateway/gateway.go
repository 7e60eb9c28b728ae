// Package gateway publishes digest notifications to the outbound messaging
// channel.
package gateway

import (
	"context"
	"errors"
)

// TypeJobAlert is the message type of digest notifications.
const TypeJobAlert = "JOB_ALERT"

// ErrInvalidPayload is returned for payloads missing a recipient or jobs.
var ErrInvalidPayload = errors.New("invalid notification payload")

// Payload is one digest notification.
type Payload struct {
	Type        string `json:"type"`
	RecipientID string `json:"recipientId"`
	Data        Data   `json:"data"`
}

// Data is the digest body delivered to the recipient.
type Data struct {
	SubscriptionID   string   `json:"subscriptionId"`
	JobIDs           []string `json:"jobIds"`
	NotificationType string   `json:"notificationType"`
	DeliveryMethod   string   `json:"deliveryMethod"`
	Keyword          string   `json:"keyword"`
}

// Validate checks the fields every consumer relies on.
func (p Payload) Validate() error {
	if p.RecipientID == "" {
		return errors.Join(ErrInvalidPayload, errors.New("recipient is required"))
	}
	if len(p.Data.JobIDs) == 0 {
		return errors.Join(ErrInvalidPayload, errors.New("at least one job is required"))
	}
	return nil
}

// Publisher delivers payloads to the messaging channel under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, p Payload) error
}
