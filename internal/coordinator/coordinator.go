// Package coordinator implements the payment lifecycle. It owns the
// authoritative mapping from payment identifier to current status and drives
// every transition through the store's compare-and-swap, so that at most one
// confirmation can be in flight per payment and a terminal decision is never
// overwritten by a stale processor read.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"github.com/yourorg/pos-payments/internal/adapter"
	"github.com/yourorg/pos-payments/internal/metrics"
	"github.com/yourorg/pos-payments/internal/payment"
	"github.com/yourorg/pos-payments/internal/statusmap"
	"github.com/yourorg/pos-payments/internal/store"
)

const (
	createFetchAttempts = 3
	createFetchDelay    = 50 * time.Millisecond

	// Message attached when a decline is forced locally and the processor
	// did not supply its own reason.
	forcedDeclineMessage = "payment method was declined"
)

// Coordinator orchestrates create/confirm/cancel/get/list against the store
// and the processor client.
type Coordinator struct {
	store     *store.Store
	processor adapter.ProcessorClient
}

// New creates a Coordinator. The store is injected, not ambient, so
// independent coordinators can coexist in tests.
func New(st *store.Store, pc adapter.ProcessorClient) *Coordinator {
	if st == nil {
		panic("store cannot be nil")
	}
	if pc == nil {
		panic("processor client cannot be nil")
	}
	return &Coordinator{store: st, processor: pc}
}

// Create registers a payment with the processor and starts tracking it. The
// idempotency key is passed through to the processor unchanged so a retried
// create resolves to the same processor object instead of a duplicate charge.
func (c *Coordinator) Create(ctx context.Context, amount float64, currency, description, idempotencyKey string) (payment.Record, error) {
	ctx, span := otel.Tracer("coordinator").Start(ctx, "Coordinator.Create")
	defer span.End()

	if amount <= 0 {
		return payment.Record{}, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if currency == "" {
		return payment.Record{}, fmt.Errorf("%w: currency is required", ErrInvalidInput)
	}
	if idempotencyKey == "" {
		return payment.Record{}, fmt.Errorf("%w: idempotency key is required", ErrInvalidInput)
	}

	created, err := c.processor.CreateIntent(ctx, adapter.CreateParams{
		AmountMinor:    toMinorUnits(amount),
		Currency:       currency,
		Description:    description,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return payment.Record{}, fmt.Errorf("%w: create: %v", ErrProcessorUnavailable, err)
	}

	// Re-fetch before acknowledging, so a client that polls right after the
	// 201 cannot observe "not found" on the processor side. Bounded wait, no
	// busy spin; if the reads keep failing the created object's own status
	// stands.
	intent := created
	for attempt := 0; attempt < createFetchAttempts; attempt++ {
		fetched, err := c.processor.GetIntent(ctx, created.ID)
		if err == nil {
			intent = fetched
			break
		}
		select {
		case <-time.After(createFetchDelay):
		case <-ctx.Done():
			return payment.Record{}, fmt.Errorf("%w: %v", ErrProcessorUnavailable, ctx.Err())
		}
	}

	rec := payment.NewRecord(intent.ID, statusmap.FromProcessor(intent.Status), amount, time.Now().UTC())
	if !c.store.Insert(intent.ID, rec) {
		// The processor resolved a retried idempotency key to an object we
		// already track.
		existing, _ := c.store.Get(intent.ID)
		return existing, nil
	}
	metrics.PaymentsCreated.Inc()
	log.Info().
		Str("payment_id", rec.PaymentID).
		Str("status", string(rec.Status)).
		Float64("amount", rec.Amount).
		Msg("payment created")
	return rec, nil
}

// Get returns the current record, refreshing non-terminal records from the
// processor. Terminal records are served from the store untouched: the
// processor's reported status may lag or regress after a terminal decision,
// and a stale remote read must never rewrite client-visible history.
func (c *Coordinator) Get(ctx context.Context, id string) (payment.Record, error) {
	ctx, span := otel.Tracer("coordinator").Start(ctx, "Coordinator.Get")
	defer span.End()

	snapshot, ok := c.store.Get(id)
	if !ok {
		return payment.Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if snapshot.Status.Terminal() {
		return snapshot, nil
	}
	if snapshot.Status == payment.StatusProcessing {
		// A confirmation holds the marker; its outcome will land shortly.
		// Refreshing from the processor here would race the in-flight
		// confirm with a mid-transition remote status.
		return snapshot, nil
	}

	intent, err := c.processor.GetIntent(ctx, id)
	if err != nil {
		return payment.Record{}, fmt.Errorf("%w: get: %v", ErrProcessorUnavailable, err)
	}
	mapped := statusmap.FromProcessor(intent.Status)
	if mapped == snapshot.Status {
		return snapshot, nil
	}

	next := snapshot.WithStatus(mapped)
	if !c.store.CompareAndSwap(id, snapshot, next) {
		// Another writer advanced the record first; their result stands.
		metrics.CASConflicts.Inc()
		current, _ := c.store.Get(id)
		return current, nil
	}
	metrics.PaymentTransitions.WithLabelValues(string(next.Status)).Inc()
	return next, nil
}

// Confirm drives a pending payment to its terminal outcome. Installing the
// PROCESSING marker by compare-and-swap is the sole admission gate: it can
// succeed for exactly one caller, so two concurrent confirms cannot both
// charge the payment.
func (c *Coordinator) Confirm(ctx context.Context, id string, shouldSucceed bool) (payment.Record, error) {
	ctx, span := otel.Tracer("coordinator").Start(ctx, "Coordinator.Confirm")
	defer span.End()

	snapshot, ok := c.store.Get(id)
	if !ok {
		return payment.Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if snapshot.Status.Terminal() {
		// Repeated confirms on a settled payment are safe no-ops.
		return snapshot, nil
	}
	if snapshot.Status == payment.StatusProcessing {
		return payment.Record{}, fmt.Errorf("%w: payment %s", ErrConcurrentModification, id)
	}

	marker := snapshot.WithStatus(payment.StatusProcessing)
	if !c.store.CompareAndSwap(id, snapshot, marker) {
		metrics.CASConflicts.Inc()
		return payment.Record{}, fmt.Errorf("%w: payment %s", ErrConcurrentModification, id)
	}

	methodRef := adapter.MethodSuccess
	if !shouldSucceed {
		methodRef = adapter.MethodDecline
	}

	var final payment.Record
	intent, err := c.settle(ctx, id, methodRef, shouldSucceed)
	if err != nil {
		var decline *adapter.DeclineError
		if !errors.As(err, &decline) {
			// The charge may still be in flight on the processor side. The
			// record stays parked in PROCESSING rather than being guessed
			// at; an operator-visible conflict beats silently resetting a
			// possibly-made charge.
			return payment.Record{}, fmt.Errorf("%w: confirm: %v", ErrProcessorUnavailable, err)
		}
		final = marker.WithStatusMessage(payment.StatusDeclined, decline.Message)
	} else {
		status := statusmap.FromOutcome(intent.Status, !shouldSucceed)
		if status == payment.StatusDeclined {
			final = marker.WithStatusMessage(status, forcedDeclineMessage)
		} else {
			final = marker.WithStatus(status)
		}
	}

	if !c.store.CompareAndSwap(id, marker, final) {
		// A concurrent cancel took the record while we were settling; its
		// write stands.
		metrics.CASConflicts.Inc()
		current, _ := c.store.Get(id)
		return current, nil
	}
	metrics.PaymentTransitions.WithLabelValues(string(final.Status)).Inc()
	log.Info().
		Str("payment_id", id).
		Str("status", string(final.Status)).
		Bool("should_succeed", shouldSucceed).
		Msg("payment confirmed")
	return final, nil
}

// settle runs the attach-confirm(-capture) sequence against the processor.
func (c *Coordinator) settle(ctx context.Context, id, methodRef string, shouldSucceed bool) (adapter.Intent, error) {
	if _, err := c.processor.AttachPaymentMethod(ctx, id, methodRef); err != nil {
		return adapter.Intent{}, err
	}
	intent, err := c.processor.ConfirmIntent(ctx, id, methodRef)
	if err != nil {
		return adapter.Intent{}, err
	}
	if shouldSucceed && intent.Status == "requires_capture" {
		intent, err = c.processor.CaptureIntent(ctx, id)
		if err != nil {
			return adapter.Intent{}, err
		}
	}
	return intent, nil
}

// Cancel voids the payment with the processor and marks the record FAILED.
// Losing the compare-and-swap race is not an error; the competing writer's
// result is returned from a fresh read.
func (c *Coordinator) Cancel(ctx context.Context, id string) (payment.Record, error) {
	ctx, span := otel.Tracer("coordinator").Start(ctx, "Coordinator.Cancel")
	defer span.End()

	snapshot, ok := c.store.Get(id)
	if !ok {
		return payment.Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if snapshot.Status.Terminal() {
		return snapshot, nil
	}

	intent, err := c.processor.CancelIntent(ctx, id)
	if err != nil {
		return payment.Record{}, fmt.Errorf("%w: cancel: %v", ErrProcessorUnavailable, err)
	}

	message := intent.CancellationReason
	if message == "" {
		message = "canceled by caller"
	}
	next := snapshot.WithStatusMessage(statusmap.FromProcessor(intent.Status), message)
	if !c.store.CompareAndSwap(id, snapshot, next) {
		metrics.CASConflicts.Inc()
		current, _ := c.store.Get(id)
		return current, nil
	}
	metrics.PaymentTransitions.WithLabelValues(string(next.Status)).Inc()
	log.Info().
		Str("payment_id", id).
		Str("status", string(next.Status)).
		Msg("payment canceled")
	return next, nil
}

// List returns a newest-first snapshot of all records in the given status.
func (c *Coordinator) List(status payment.Status) []payment.Record {
	return c.store.ListWhere(func(r payment.Record) bool {
		return r.Status == status
	})
}

func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
