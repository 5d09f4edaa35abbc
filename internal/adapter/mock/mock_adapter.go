// Package mock provides a scriptable ProcessorClient for tests, and a
// scripted default behavior complete enough to run the whole service without
// processor credentials.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/pos-payments/internal/adapter"
)

// Processor is a mock implementation of adapter.ProcessorClient. Tests
// override individual calls through the *Func fields; any call without an
// override runs the default in-memory intent lifecycle: create yields
// requires_payment_method, attach yields requires_confirmation, confirming
// the success instrument yields requires_capture, capture yields succeeded,
// confirming the decline instrument returns a DeclineError, cancel yields
// canceled.
type Processor struct {
	CreateFunc  func(ctx context.Context, params adapter.CreateParams) (adapter.Intent, error)
	GetFunc     func(ctx context.Context, id string) (adapter.Intent, error)
	AttachFunc  func(ctx context.Context, id, methodRef string) (adapter.Intent, error)
	ConfirmFunc func(ctx context.Context, id, methodRef string) (adapter.Intent, error)
	CaptureFunc func(ctx context.Context, id string) (adapter.Intent, error)
	CancelFunc  func(ctx context.Context, id string) (adapter.Intent, error)

	mu      sync.Mutex
	intents map[string]adapter.Intent
}

// NewProcessor creates a Processor with the default scripted behavior.
func NewProcessor() *Processor {
	return &Processor{intents: make(map[string]adapter.Intent)}
}

func (p *Processor) CreateIntent(ctx context.Context, params adapter.CreateParams) (adapter.Intent, error) {
	if p.CreateFunc != nil {
		return p.CreateFunc(ctx, params)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	intent := adapter.Intent{
		ID:          "pi_" + uuid.NewString(),
		Status:      "requires_payment_method",
		AmountMinor: params.AmountMinor,
		Currency:    params.Currency,
		Created:     time.Now().UTC(),
	}
	p.intents[intent.ID] = intent
	return intent, nil
}

func (p *Processor) GetIntent(ctx context.Context, id string) (adapter.Intent, error) {
	if p.GetFunc != nil {
		return p.GetFunc(ctx, id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	intent, ok := p.intents[id]
	if !ok {
		return adapter.Intent{}, fmt.Errorf("mock: no such intent %s", id)
	}
	return intent, nil
}

func (p *Processor) AttachPaymentMethod(ctx context.Context, id, methodRef string) (adapter.Intent, error) {
	if p.AttachFunc != nil {
		return p.AttachFunc(ctx, id, methodRef)
	}
	return p.transition(id, "requires_confirmation", "")
}

func (p *Processor) ConfirmIntent(ctx context.Context, id, methodRef string) (adapter.Intent, error) {
	if p.ConfirmFunc != nil {
		return p.ConfirmFunc(ctx, id, methodRef)
	}
	if methodRef == adapter.MethodDecline {
		p.transition(id, "requires_payment_method", "")
		return adapter.Intent{}, &adapter.DeclineError{Code: "card_declined", Message: "Your card was declined."}
	}
	return p.transition(id, "requires_capture", "")
}

func (p *Processor) CaptureIntent(ctx context.Context, id string) (adapter.Intent, error) {
	if p.CaptureFunc != nil {
		return p.CaptureFunc(ctx, id)
	}
	return p.transition(id, "succeeded", "")
}

func (p *Processor) CancelIntent(ctx context.Context, id string) (adapter.Intent, error) {
	if p.CancelFunc != nil {
		return p.CancelFunc(ctx, id)
	}
	return p.transition(id, "canceled", "requested_by_customer")
}

func (p *Processor) transition(id, status, cancellationReason string) (adapter.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	intent, ok := p.intents[id]
	if !ok {
		return adapter.Intent{}, fmt.Errorf("mock: no such intent %s", id)
	}
	intent.Status = status
	if cancellationReason != "" {
		intent.CancellationReason = cancellationReason
	}
	p.intents[id] = intent
	return intent, nil
}
