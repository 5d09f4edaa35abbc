package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/pos-payments/internal/adapter"
	"github.com/yourorg/pos-payments/internal/adapter/mock"
	"github.com/yourorg/pos-payments/internal/payment"
	"github.com/yourorg/pos-payments/internal/store"
)

func newCoordinator() (*Coordinator, *mock.Processor) {
	proc := mock.NewProcessor()
	return New(store.New(), proc), proc
}

func createPayment(t *testing.T, c *Coordinator, amount float64) payment.Record {
	t.Helper()
	rec, err := c.Create(context.Background(), amount, "EUR", "test payment", "key-"+t.Name())
	require.NoError(t, err)
	return rec
}

func TestNew_NilDependencies(t *testing.T) {
	assert.Panics(t, func() { New(nil, mock.NewProcessor()) })
	assert.Panics(t, func() { New(store.New(), nil) })
}

func TestCreate_InvalidInput(t *testing.T) {
	c, _ := newCoordinator()
	ctx := context.Background()

	_, err := c.Create(ctx, 0, "EUR", "", "k")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = c.Create(ctx, -5, "EUR", "", "k")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = c.Create(ctx, 10, "", "", "k")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = c.Create(ctx, 10, "EUR", "", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreate_ReturnsPendingRecord(t *testing.T) {
	c, _ := newCoordinator()

	rec := createPayment(t, c, 10.00)
	assert.NotEmpty(t, rec.PaymentID)
	assert.Equal(t, payment.StatusPending, rec.Status)
	assert.Equal(t, 10.00, rec.Amount)
	assert.Nil(t, rec.Message)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.True(t, rec.UpdatedAt.Equal(rec.CreatedAt))

	// Round-trip: an immediate get sees the same amount and a live status.
	got, err := c.Get(context.Background(), rec.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, 10.00, got.Amount)
	assert.Contains(t, []payment.Status{payment.StatusPending, payment.StatusProcessing}, got.Status)
}

func TestCreate_ProcessorDown(t *testing.T) {
	c, proc := newCoordinator()
	proc.CreateFunc = func(ctx context.Context, params adapter.CreateParams) (adapter.Intent, error) {
		return adapter.Intent{}, errors.New("connection refused")
	}

	_, err := c.Create(context.Background(), 10, "EUR", "", "k")
	assert.ErrorIs(t, err, ErrProcessorUnavailable)
}

func TestCreate_RefetchFallsBackToCreatedObject(t *testing.T) {
	c, proc := newCoordinator()
	proc.CreateFunc = func(ctx context.Context, params adapter.CreateParams) (adapter.Intent, error) {
		return adapter.Intent{ID: "pi_slow", Status: "requires_payment_method"}, nil
	}
	proc.GetFunc = func(ctx context.Context, id string) (adapter.Intent, error) {
		return adapter.Intent{}, errors.New("not visible yet")
	}

	rec, err := c.Create(context.Background(), 10, "EUR", "", "k")
	require.NoError(t, err, "a lagging read view must not fail the create")
	assert.Equal(t, "pi_slow", rec.PaymentID)
	assert.Equal(t, payment.StatusPending, rec.Status)
}

func TestCreate_IdempotentReplay(t *testing.T) {
	c, proc := newCoordinator()
	intent := adapter.Intent{ID: "pi_same", Status: "requires_payment_method"}
	proc.CreateFunc = func(ctx context.Context, params adapter.CreateParams) (adapter.Intent, error) {
		assert.Equal(t, "replay-key", params.IdempotencyKey)
		return intent, nil
	}
	proc.GetFunc = func(ctx context.Context, id string) (adapter.Intent, error) {
		return intent, nil
	}

	first, err := c.Create(context.Background(), 10, "EUR", "", "replay-key")
	require.NoError(t, err)
	second, err := c.Create(context.Background(), 10, "EUR", "", "replay-key")
	require.NoError(t, err)

	assert.Equal(t, first.PaymentID, second.PaymentID)
	assert.True(t, first.Equal(second), "a replayed create returns the tracked record, not a new one")
}

func TestCreate_PassesMinorUnits(t *testing.T) {
	c, proc := newCoordinator()
	var gotAmount int64
	proc.CreateFunc = func(ctx context.Context, params adapter.CreateParams) (adapter.Intent, error) {
		gotAmount = params.AmountMinor
		return adapter.Intent{ID: "pi_units", Status: "requires_payment_method"}, nil
	}
	proc.GetFunc = func(ctx context.Context, id string) (adapter.Intent, error) {
		return adapter.Intent{ID: id, Status: "requires_payment_method"}, nil
	}

	_, err := c.Create(context.Background(), 10.99, "EUR", "", "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1099), gotAmount)
}

func TestGet_NotFound(t *testing.T) {
	c, _ := newCoordinator()
	_, err := c.Get(context.Background(), "pi_unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_RefreshesNonTerminalAndCachesTerminal(t *testing.T) {
	c, proc := newCoordinator()
	rec := createPayment(t, c, 10.00)

	calls := 0
	proc.GetFunc = func(ctx context.Context, id string) (adapter.Intent, error) {
		calls++
		return adapter.Intent{ID: id, Status: "succeeded"}, nil
	}

	got, err := c.Get(context.Background(), rec.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusApproved, got.Status)
	assert.Equal(t, 1, calls)

	// Terminal now: further gets never touch the processor, even if its
	// reported status has regressed.
	proc.GetFunc = func(ctx context.Context, id string) (adapter.Intent, error) {
		calls++
		return adapter.Intent{ID: id, Status: "requires_payment_method"}, nil
	}
	got, err = c.Get(context.Background(), rec.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusApproved, got.Status)
	assert.Equal(t, 1, calls, "terminal records are served from the store")
}

func TestGet_UnchangedStatusKeepsRecord(t *testing.T) {
	c, proc := newCoordinator()
	rec := createPayment(t, c, 10.00)

	proc.GetFunc = func(ctx context.Context, id string) (adapter.Intent, error) {
		return adapter.Intent{ID: id, Status: "requires_confirmation"}, nil
	}

	got, err := c.Get(context.Background(), rec.PaymentID)
	require.NoError(t, err)
	assert.True(t, got.Equal(rec), "no transition means no new record value")
}

func TestGet_ProcessorDown(t *testing.T) {
	c, proc := newCoordinator()
	rec := createPayment(t, c, 10.00)

	proc.GetFunc = func(ctx context.Context, id string) (adapter.Intent, error) {
		return adapter.Intent{}, errors.New("timeout")
	}
	_, err := c.Get(context.Background(), rec.PaymentID)
	assert.ErrorIs(t, err, ErrProcessorUnavailable)
}

func TestConfirm_Approves(t *testing.T) {
	c, _ := newCoordinator()
	rec := createPayment(t, c, 10.00)

	got, err := c.Confirm(context.Background(), rec.PaymentID, true)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusApproved, got.Status)
	assert.Equal(t, 10.00, got.Amount)
	assert.Nil(t, got.Message)
	assert.True(t, got.UpdatedAt.After(rec.UpdatedAt) || got.UpdatedAt.Equal(rec.UpdatedAt))
}

func TestConfirm_Declines(t *testing.T) {
	c, _ := newCoordinator()
	rec := createPayment(t, c, 25.00)

	got, err := c.Confirm(context.Background(), rec.PaymentID, false)
	require.NoError(t, err, "a processor decline is a result, not a failure")
	assert.Equal(t, payment.StatusDeclined, got.Status)
	require.NotNil(t, got.Message)
	assert.NotEmpty(t, *got.Message)
}

func TestConfirm_ForcedDecline(t *testing.T) {
	c, proc := newCoordinator()
	rec := createPayment(t, c, 25.00)

	// Even if the processor settles the charge, a shouldSucceed=false
	// confirmation must end DECLINED.
	proc.ConfirmFunc = func(ctx context.Context, id, methodRef string) (adapter.Intent, error) {
		return adapter.Intent{ID: id, Status: "succeeded"}, nil
	}

	got, err := c.Confirm(context.Background(), rec.PaymentID, false)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusDeclined, got.Status)
	require.NotNil(t, got.Message)
	assert.NotEmpty(t, *got.Message)
}

func TestConfirm_NotFound(t *testing.T) {
	c, _ := newCoordinator()
	_, err := c.Confirm(context.Background(), "pi_unknown", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConfirm_TerminalIsIdempotent(t *testing.T) {
	c, _ := newCoordinator()
	rec := createPayment(t, c, 10.00)

	first, err := c.Confirm(context.Background(), rec.PaymentID, true)
	require.NoError(t, err)
	require.Equal(t, payment.StatusApproved, first.Status)

	again, err := c.Confirm(context.Background(), rec.PaymentID, true)
	require.NoError(t, err)
	assert.True(t, first.Equal(again))

	// Flipping shouldSucceed after settlement changes nothing either.
	again, err = c.Confirm(context.Background(), rec.PaymentID, false)
	require.NoError(t, err)
	assert.True(t, first.Equal(again))
}

func TestConfirm_ProcessorDownParksProcessing(t *testing.T) {
	c, proc := newCoordinator()
	rec := createPayment(t, c, 10.00)

	proc.ConfirmFunc = func(ctx context.Context, id, methodRef string) (adapter.Intent, error) {
		return adapter.Intent{}, errors.New("timeout")
	}

	_, err := c.Confirm(context.Background(), rec.PaymentID, true)
	require.ErrorIs(t, err, ErrProcessorUnavailable)

	// The marker stays put: the charge may be in flight, so nothing resets
	// it behind the operator's back.
	got, err := c.Get(context.Background(), rec.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusProcessing, got.Status)

	_, err = c.Confirm(context.Background(), rec.PaymentID, true)
	assert.ErrorIs(t, err, ErrConcurrentModification)
}

func TestConfirm_ConcurrentSingleWinner(t *testing.T) {
	c, proc := newCoordinator()
	rec := createPayment(t, c, 10.00)

	entered := make(chan struct{})
	release := make(chan struct{})
	proc.ConfirmFunc = func(ctx context.Context, id, methodRef string) (adapter.Intent, error) {
		close(entered)
		<-release
		return adapter.Intent{ID: id, Status: "succeeded"}, nil
	}

	var winner payment.Record
	var g errgroup.Group
	g.Go(func() error {
		got, err := c.Confirm(context.Background(), rec.PaymentID, true)
		if err != nil {
			return err
		}
		winner = got
		return nil
	})

	<-entered // the first confirm holds the PROCESSING marker

	_, err := c.Confirm(context.Background(), rec.PaymentID, true)
	assert.ErrorIs(t, err, ErrConcurrentModification, "the second confirm must be refused, not queued")

	close(release)
	require.NoError(t, g.Wait())
	assert.Equal(t, payment.StatusApproved, winner.Status)

	// A confirm arriving after settlement sees the terminal record.
	late, err := c.Confirm(context.Background(), rec.PaymentID, true)
	require.NoError(t, err)
	assert.True(t, winner.Equal(late))
}

func TestCancel_MarksFailed(t *testing.T) {
	c, _ := newCoordinator()
	rec := createPayment(t, c, 50.00)

	got, err := c.Cancel(context.Background(), rec.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, got.Status)
	require.NotNil(t, got.Message)
	assert.NotEmpty(t, *got.Message)
	assert.Equal(t, 50.00, got.Amount)
}

func TestCancel_TerminalIsIdempotent(t *testing.T) {
	c, _ := newCoordinator()
	rec := createPayment(t, c, 10.00)

	approved, err := c.Confirm(context.Background(), rec.PaymentID, true)
	require.NoError(t, err)

	got, err := c.Cancel(context.Background(), rec.PaymentID)
	require.NoError(t, err)
	assert.True(t, approved.Equal(got), "cancel on a settled payment is a no-op")
}

func TestCancel_NotFound(t *testing.T) {
	c, _ := newCoordinator()
	_, err := c.Cancel(context.Background(), "pi_unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancel_ProcessorDown(t *testing.T) {
	c, proc := newCoordinator()
	rec := createPayment(t, c, 10.00)

	proc.CancelFunc = func(ctx context.Context, id string) (adapter.Intent, error) {
		return adapter.Intent{}, errors.New("timeout")
	}
	_, err := c.Cancel(context.Background(), rec.PaymentID)
	assert.ErrorIs(t, err, ErrProcessorUnavailable)
}

func TestList_FiltersAndOrders(t *testing.T) {
	c, _ := newCoordinator()
	ctx := context.Background()

	first, err := c.Create(ctx, 1.00, "EUR", "", "k1")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	second, err := c.Create(ctx, 2.00, "EUR", "", "k2")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	third, err := c.Create(ctx, 3.00, "EUR", "", "k3")
	require.NoError(t, err)

	_, err = c.Confirm(ctx, second.PaymentID, true)
	require.NoError(t, err)
	_, err = c.Cancel(ctx, third.PaymentID)
	require.NoError(t, err)

	pending := c.List(payment.StatusPending)
	require.Len(t, pending, 1)
	assert.Equal(t, first.PaymentID, pending[0].PaymentID)

	for _, rec := range pending {
		assert.False(t, rec.Status.Terminal(), "pending list must never contain settled payments")
	}

	approved := c.List(payment.StatusApproved)
	require.Len(t, approved, 1)
	assert.Equal(t, second.PaymentID, approved[0].PaymentID)
}

func TestList_NewestFirst(t *testing.T) {
	c, _ := newCoordinator()
	ctx := context.Background()

	var ids []string
	for _, key := range []string{"a", "b", "c"} {
		rec, err := c.Create(ctx, 5.00, "EUR", "", "order-"+key)
		require.NoError(t, err)
		ids = append(ids, rec.PaymentID)
		time.Sleep(time.Millisecond)
	}

	pending := c.List(payment.StatusPending)
	require.Len(t, pending, 3)
	assert.Equal(t, ids[2], pending[0].PaymentID)
	assert.Equal(t, ids[1], pending[1].PaymentID)
	assert.Equal(t, ids[0], pending[2].PaymentID)
}

func TestAmountNeverChanges(t *testing.T) {
	c, _ := newCoordinator()
	rec := createPayment(t, c, 10.00)

	got, err := c.Get(context.Background(), rec.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, 10.00, got.Amount)

	got, err = c.Confirm(context.Background(), rec.PaymentID, true)
	require.NoError(t, err)
	assert.Equal(t, 10.00, got.Amount)

	got, err = c.Get(context.Background(), rec.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, 10.00, got.Amount)

	got, err = c.Cancel(context.Background(), rec.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, 10.00, got.Amount)
}
