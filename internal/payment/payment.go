// Package payment defines the payment record value type and its lifecycle
// states. Records are immutable values: every transition builds a new record
// through the With* helpers, which is what makes the store's compare-and-swap
// discipline sound.
package payment

import "time"

// Status is the canonical lifecycle state of a payment.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusApproved   Status = "APPROVED"
	StatusDeclined   Status = "DECLINED"
	StatusFailed     Status = "FAILED"
	StatusError      Status = "ERROR"
)

// Terminal reports whether no further transition is possible from s.
// PENDING and PROCESSING are the only non-terminal states.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusDeclined, StatusFailed, StatusError:
		return true
	}
	return false
}

// Record is a snapshot of a payment at a point in time. The identifier is
// assigned by the processor and never reused; Amount and CreatedAt never
// change after creation.
type Record struct {
	PaymentID string    `json:"paymentId"`
	Status    Status    `json:"status"`
	Message   *string   `json:"message"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewRecord creates the initial record for a freshly created payment.
func NewRecord(id string, status Status, amount float64, createdAt time.Time) Record {
	return Record{
		PaymentID: id,
		Status:    status,
		Amount:    amount,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

// WithStatus returns a copy of r in the given status with a refreshed
// UpdatedAt.
func (r Record) WithStatus(s Status) Record {
	r.Status = s
	r.UpdatedAt = time.Now().UTC()
	return r
}

// WithStatusMessage returns a copy of r in the given status carrying a
// human-readable message, as set on decline, cancel and error outcomes.
func (r Record) WithStatusMessage(s Status, message string) Record {
	r.Status = s
	r.Message = &message
	r.UpdatedAt = time.Now().UTC()
	return r
}

// Equal reports value identity between two snapshots. This is the identity
// the store's compare-and-swap checks.
func (r Record) Equal(o Record) bool {
	if r.PaymentID != o.PaymentID || r.Status != o.Status || r.Amount != o.Amount {
		return false
	}
	if (r.Message == nil) != (o.Message == nil) {
		return false
	}
	if r.Message != nil && *r.Message != *o.Message {
		return false
	}
	return r.CreatedAt.Equal(o.CreatedAt) && r.UpdatedAt.Equal(o.UpdatedAt)
}
