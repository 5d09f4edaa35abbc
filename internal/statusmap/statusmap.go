// Package statusmap translates the processor's status vocabulary into the
// canonical payment lifecycle states. The translation is pure: no processor
// calls, no store access.
package statusmap

import "github.com/yourorg/pos-payments/internal/payment"

// Processor-native statuses with a dedicated mapping. Everything else the
// processor might report (requires_payment_method, requires_confirmation,
// requires_action, requires_capture, processing, future additions) is still
// in flight from the caller's point of view and maps to PENDING.
const (
	processorSucceeded     = "succeeded"
	processorCanceled      = "canceled"
	processorPaymentFailed = "payment_failed"
)

// FromProcessor maps a raw processor status onto a canonical state.
func FromProcessor(status string) payment.Status {
	switch status {
	case processorSucceeded:
		return payment.StatusApproved
	case processorCanceled:
		return payment.StatusFailed
	case processorPaymentFailed:
		return payment.StatusDeclined
	default:
		return payment.StatusPending
	}
}

// FromOutcome maps the result of a confirmation. A decline wins over
// whatever status the processor reported alongside it.
func FromOutcome(status string, declined bool) payment.Status {
	if declined {
		return payment.StatusDeclined
	}
	return FromProcessor(status)
}
