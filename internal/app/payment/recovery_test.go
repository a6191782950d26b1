package payment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/paygate/internal/domain/payment"
)

func (f *fixture) unknownOrder(t *testing.T, seed string) payment.CheckoutResult {
	t.Helper()
	res := f.newOrder(t, seed)
	exec := &scriptedExecutor{outcomes: []func(payment.ConfirmCommand) (payment.ExecutionResult, error){timeout}}
	require.Equal(t, payment.StatusUnknown, f.confirmService(exec).Confirm(context.Background(), cmdFor(res)).Status)
	return res
}

func TestRecoverResolvesUnknownOrders(t *testing.T) {
	f := newFixture(t)
	res := f.unknownOrder(t, "seed-recover")
	exec := &scriptedExecutor{outcomes: []func(payment.ConfirmCommand) (payment.ExecutionResult, error){succeed}}

	report := f.recoveryService(exec).Recover(context.Background())
	require.NoError(t, report.Err)
	require.Equal(t, 1, report.Candidates)
	require.Equal(t, 1, report.Succeeded)
	require.Equal(t, all(payment.StatusSuccess, 3), f.statuses(t, res.OrderID))
	require.Len(t, f.dispatcher.Messages(), 1)

	report = f.recoveryService(exec).Recover(context.Background())
	require.Zero(t, report.Candidates)
}

func TestRecoverStopsAtThreshold(t *testing.T) {
	f := newFixture(t)
	res := f.unknownOrder(t, "seed-threshold")
	exec := &scriptedExecutor{outcomes: []func(payment.ConfirmCommand) (payment.ExecutionResult, error){timeout}}
	svc := f.recoveryService(exec)

	event, err := f.store.FindEvent(context.Background(), res.OrderID)
	require.NoError(t, err)
	threshold := event.Orders[0].Threshold
	require.Positive(t, threshold)

	for i := 0; i < threshold; i++ {
		report := svc.Recover(context.Background())
		require.Equal(t, 1, report.Candidates)
		require.Equal(t, 1, report.Unknown)
	}
	require.Zero(t, svc.Recover(context.Background()).Candidates)
	require.Equal(t, threshold, exec.Calls())

	event, err = f.store.FindEvent(context.Background(), res.OrderID)
	require.NoError(t, err)
	for _, o := range event.Orders {
		require.Equal(t, threshold, o.FailedCount)
		require.Equal(t, payment.StatusUnknown, o.Status)
	}
}

func TestRecoverBatchKeepsEventsWhole(t *testing.T) {
	f := newFixture(t)
	var orders []payment.CheckoutResult
	for _, seed := range []string{"seed-b1", "seed-b2", "seed-b3", "seed-b4"} {
		orders = append(orders, f.unknownOrder(t, seed))
	}
	exec := &scriptedExecutor{outcomes: []func(payment.ConfirmCommand) (payment.ExecutionResult, error){succeed}}
	svc := NewRecoveryService(f.store, f.committer, NewStoreValidator(f.store), exec, f.handler,
		RecoveryConfig{BatchSize: 10}, WithRecoveryClock(f.clock.Now))

	report := svc.Recover(context.Background())
	require.NoError(t, report.Err)
	require.Equal(t, 4, report.Candidates)
	require.Equal(t, 4, report.Succeeded)
	require.Zero(t, report.Failed)
	for _, res := range orders {
		require.Equal(t, all(payment.StatusSuccess, 3), f.statuses(t, res.OrderID))
	}
}

func TestRecoverBatchSizeCountsEvents(t *testing.T) {
	f := newFixture(t)
	first := f.unknownOrder(t, "seed-c1")
	second := f.unknownOrder(t, "seed-c2")
	exec := &scriptedExecutor{outcomes: []func(payment.ConfirmCommand) (payment.ExecutionResult, error){succeed}}
	svc := NewRecoveryService(f.store, f.committer, NewStoreValidator(f.store), exec, f.handler,
		RecoveryConfig{BatchSize: 1}, WithRecoveryClock(f.clock.Now))

	report := svc.Recover(context.Background())
	require.Equal(t, 1, report.Candidates)
	require.Equal(t, 1, report.Succeeded)

	report = svc.Recover(context.Background())
	require.Equal(t, 1, report.Candidates)
	require.Equal(t, 1, report.Succeeded)
	require.Equal(t, all(payment.StatusSuccess, 3), f.statuses(t, first.OrderID))
	require.Equal(t, all(payment.StatusSuccess, 3), f.statuses(t, second.OrderID))
}

func TestRecoverPicksUpStaleExecutingOrders(t *testing.T) {
	f := newFixture(t)
	res := f.newOrder(t, "seed-stale")
	require.NoError(t, f.committer.MarkExecuting(context.Background(), "pk-stale", res.OrderID))
	exec := &scriptedExecutor{outcomes: []func(payment.ConfirmCommand) (payment.ExecutionResult, error){succeed}}
	svc := f.recoveryService(exec)

	f.clock.Advance(time.Minute)
	require.Zero(t, svc.Recover(context.Background()).Candidates)

	f.clock.Advance(3 * time.Minute)
	report := svc.Recover(context.Background())
	require.Equal(t, 1, report.Succeeded)
	require.Equal(t, all(payment.StatusSuccess, 3), f.statuses(t, res.OrderID))

	event, err := f.store.FindEvent(context.Background(), res.OrderID)
	require.NoError(t, err)
	require.Equal(t, "pk-stale", event.PaymentKey)
}

func TestRecoverIsolatesPanickingCandidate(t *testing.T) {
	f := newFixture(t)
	bad := f.unknownOrder(t, "seed-panic")
	good := f.unknownOrder(t, "seed-fine")
	exec := &scriptedExecutor{outcomes: []func(payment.ConfirmCommand) (payment.ExecutionResult, error){
		func(cmd payment.ConfirmCommand) (payment.ExecutionResult, error) {
			if cmd.OrderID == bad.OrderID {
				panic("psp client exploded")
			}
			return succeed(cmd)
		},
	}}

	report := f.recoveryService(exec).Recover(context.Background())
	require.Equal(t, 2, report.Candidates)
	require.Equal(t, 1, report.Panicked)
	require.Equal(t, 1, report.Succeeded)
	require.Error(t, report.Err)
	require.Equal(t, all(payment.StatusSuccess, 3), f.statuses(t, good.OrderID))
	require.Equal(t, all(payment.StatusUnknown, 3), f.statuses(t, bad.OrderID))
}

func TestRecoverValidationFailureIsTerminal(t *testing.T) {
	f := newFixture(t)
	res := f.unknownOrder(t, "seed-invalid")
	exec := &scriptedExecutor{outcomes: []func(payment.ConfirmCommand) (payment.ExecutionResult, error){
		fail("INVALID_REQUEST", payment.StatusFailure, false),
	}}

	report := f.recoveryService(exec).Recover(context.Background())
	require.Equal(t, 1, report.Failed)
	require.Equal(t, all(payment.StatusFailure, 3), f.statuses(t, res.OrderID))
}

func TestRunRecoversOnSchedule(t *testing.T) {
	f := newFixture(t)
	res := f.unknownOrder(t, "seed-run")
	exec := &scriptedExecutor{outcomes: []func(payment.ConfirmCommand) (payment.ExecutionResult, error){succeed}}
	svc := f.recoveryService(exec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Run(ctx, 0, 10*time.Millisecond)
	}()
	require.Eventually(t, func() bool {
		return f.statuses(t, res.OrderID)[0] == payment.StatusSuccess
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestRecoveryConfigDefaults(t *testing.T) {
	cfg := RecoveryConfig{}.withDefaults()
	require.Equal(t, 10, cfg.BatchSize)
	require.Equal(t, 3*time.Minute, cfg.StaleAfter)
	require.Equal(t, 2, cfg.Parallelism)
}
