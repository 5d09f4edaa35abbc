// Package adapter defines the boundary to the external payment processor.
// Implementations own the provider-specific API calls, including
// serialization, retry on transient failures, idempotency and error mapping,
// normalizing raw provider responses into the common Intent shape.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Canned test instruments. Which one a confirmation attaches decides whether
// the processor approves or declines the charge.
const (
	MethodSuccess = "pm_card_visa"
	MethodDecline = "pm_card_visa_chargeDeclined"
)

// ErrUnavailable marks transport-level failures reaching the processor:
// network errors, timeouts, 5xx responses, an open circuit. Callers test for
// it with errors.Is.
var ErrUnavailable = errors.New("payment processor unavailable")

// Intent is the processor-side payment object, normalized.
type Intent struct {
	ID                 string
	Status             string
	AmountMinor        int64
	Currency           string
	CancellationReason string
	Created            time.Time
}

// CreateParams carries everything needed to create a processor-side payment.
// The idempotency key must reach the processor unchanged so a retried create
// resolves to the same object instead of a duplicate charge.
type CreateParams struct {
	AmountMinor    int64
	Currency       string
	Description    string
	IdempotencyKey string
}

// DeclineError is the processor refusing the charge. It is business data,
// not a transport fault; callers branch on it with errors.As.
type DeclineError struct {
	Code    string
	Message string
}

func (e *DeclineError) Error() string {
	return fmt.Sprintf("processor declined: %s (%s)", e.Message, e.Code)
}

// ProcessorClient is the interface implemented by each processor adapter.
type ProcessorClient interface {
	CreateIntent(ctx context.Context, params CreateParams) (Intent, error)
	GetIntent(ctx context.Context, id string) (Intent, error)
	AttachPaymentMethod(ctx context.Context, id, methodRef string) (Intent, error)
	// ConfirmIntent may return *DeclineError when the instrument is refused.
	ConfirmIntent(ctx context.Context, id, methodRef string) (Intent, error)
	CaptureIntent(ctx context.Context, id string) (Intent, error)
	CancelIntent(ctx context.Context, id string) (Intent, error)
}
