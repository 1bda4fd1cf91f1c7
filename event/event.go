// Package event defines the usage-event domain model shared across the
// ingestion gateway's ingress, dedupe, and sink layers.
package event

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// UsageEvent is a single billable usage record submitted by a customer
// integration. Field names and JSON tags mirror the upstream billing
// pipeline's wire format so downstream ClickHouse rows line up 1:1.
type UsageEvent struct {
	EventID        uuid.UUID `json:"event_id"`
	CustomerID     string    `json:"customer_id"`
	EventType      string    `json:"event_type"`
	Amount         uint64    `json:"amount"`
	IdempotencyKey string    `json:"idempotency_key"`
	Timestamp      int64     `json:"timestamp"`
}

// NewUsageEvent builds a UsageEvent, assigning a fresh event ID and the
// current time. Timestamp is overwritten again at ingress time so a
// caller-supplied value is never trusted.
func NewUsageEvent(customerID, eventType string, amount uint64, idempotencyKey string) UsageEvent {
	return UsageEvent{
		EventID:        uuid.New(),
		CustomerID:     customerID,
		EventType:      eventType,
		Amount:         amount,
		IdempotencyKey: idempotencyKey,
		Timestamp:      time.Now().UTC().Unix(),
	}
}

var (
	ErrMissingCustomerID     = errors.New("event: customer_id is required")
	ErrMissingEventType      = errors.New("event: event_type is required")
	ErrMissingIdempotencyKey = errors.New("event: idempotency_key is required")
)

// Validate checks the structural invariants an ingested event must satisfy
// before it is handed off to the pipeline. It does not check the
// timestamp, which is always server-assigned.
func (e UsageEvent) Validate() error {
	if e.CustomerID == "" {
		return ErrMissingCustomerID
	}
	if e.EventType == "" {
		return ErrMissingEventType
	}
	if e.IdempotencyKey == "" {
		return ErrMissingIdempotencyKey
	}
	return nil
}

// DedupeKey is the key used for both the local and shared dedupe stores.
// idempotency_key is the sole dedupe identity: two events with equal keys
// are treated as the same event, regardless of customer.
func (e UsageEvent) DedupeKey() string {
	return e.IdempotencyKey
}
