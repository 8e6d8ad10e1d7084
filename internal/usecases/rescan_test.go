package usecases

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/telepay/reconciler/internal/core/ports"
	"github.com/telepay/reconciler/internal/entities"
)

func TestRescanByTxidUnknownTransfer(t *testing.T) {
	svc := NewRescanService(testLogger(), newTestOrderService(&fakeOrdersRepo{}), newMemTransfers(), nil)

	_, err := svc.RescanByTxid(context.Background(), "nope")
	require.ErrorIs(t, err, ports.ErrTransferNotFound)
}

func TestRescanByTxidReplaysTransfer(t *testing.T) {
	order := pendingOrder("o-1", "10", "10.0042")
	transfers := newMemTransfers()
	_, err := transfers.Record(context.Background(), usdtTransfer("tx-1", "10.0042", 100))
	require.NoError(t, err)

	credit := &fakeCreditService{outcome: ports.CreditOutcomeCredited}
	processor := NewTransferProcessor(testLogger(), &fakeCandidates{order: order},
		credit, transfers, &fakeChain{latest: 200}, 2, time.Hour)

	svc := NewRescanService(testLogger(),
		newTestOrderService(&fakeOrdersRepo{byID: map[string]*entities.Order{"o-1": order}}),
		transfers, processor)

	outcome, err := svc.RescanByTxid(context.Background(), "tx-1")
	require.NoError(t, err)
	require.Equal(t, ports.CreditOutcomeCredited, outcome)
	require.True(t, transfers.byTxid["tx-1"].Processed)
}

func TestRescanByOrderCompletedIsIdempotent(t *testing.T) {
	order := pendingOrder("o-1", "10", "10.0042")
	order.Status = ports.OrderStatusCompleted

	credit := &fakeCreditService{outcome: ports.CreditOutcomeCredited}
	svc := NewRescanService(testLogger(),
		newTestOrderService(&fakeOrdersRepo{byID: map[string]*entities.Order{"o-1": order}}),
		newMemTransfers(), nil)

	outcome, err := svc.RescanByOrder(context.Background(), "o-1")
	require.NoError(t, err)
	require.Equal(t, ports.CreditOutcomeAlreadyCredited, outcome)
	require.Empty(t, credit.calls)
}

func TestRescanByOrderUnknownOrder(t *testing.T) {
	svc := NewRescanService(testLogger(),
		newTestOrderService(&fakeOrdersRepo{byID: map[string]*entities.Order{}}),
		newMemTransfers(), nil)

	_, err := svc.RescanByOrder(context.Background(), "nope")
	require.ErrorIs(t, err, ports.ErrOrderNotFound)
}

func TestRescanByOrderCreditsAmountMatch(t *testing.T) {
	order := pendingOrder("o-1", "10", "10.0042")
	// The transfer landed outside the watcher's normal window but inside the
	// widened rescan one.
	transfers := newMemTransfers()

	late := usdtTransfer("tx-late", "10.0042", 100)
	late.EventTime = order.CreatedAt.Add(90 * time.Minute)
	_, err := transfers.Record(context.Background(), late)
	require.NoError(t, err)

	noise := usdtTransfer("tx-noise", "77.7777", 100)
	noise.EventTime = late.EventTime
	_, err = transfers.Record(context.Background(), noise)
	require.NoError(t, err)

	credit := &fakeCreditService{outcome: ports.CreditOutcomeCredited}
	processor := NewTransferProcessor(testLogger(), &fakeCandidates{order: order},
		credit, transfers, &fakeChain{latest: 200}, 2, time.Hour)

	svc := NewRescanService(testLogger(),
		newTestOrderService(&fakeOrdersRepo{byID: map[string]*entities.Order{"o-1": order}}),
		transfers, processor)

	outcome, err := svc.RescanByOrder(context.Background(), "o-1")
	require.NoError(t, err)
	require.Equal(t, ports.CreditOutcomeCredited, outcome)
	require.Equal(t, []string{"o-1"}, credit.calls)
	require.True(t, transfers.byTxid["tx-late"].Processed)
	require.False(t, transfers.byTxid["tx-noise"].Processed)
}

func TestRescanByOrderSkipsUnconfirmed(t *testing.T) {
	order := pendingOrder("o-1", "10", "10.0042")
	transfers := newMemTransfers()

	transfer := usdtTransfer("tx-1", "10.0042", 200)
	transfer.EventTime = order.CreatedAt.Add(time.Minute)
	_, err := transfers.Record(context.Background(), transfer)
	require.NoError(t, err)

	credit := &fakeCreditService{outcome: ports.CreditOutcomeCredited}
	processor := NewTransferProcessor(testLogger(), &fakeCandidates{order: order},
		credit, transfers, &fakeChain{latest: 200}, 2, time.Hour)

	svc := NewRescanService(testLogger(),
		newTestOrderService(&fakeOrdersRepo{byID: map[string]*entities.Order{"o-1": order}}),
		transfers, processor)

	_, err = svc.RescanByOrder(context.Background(), "o-1")
	require.ErrorIs(t, err, ports.ErrNoMatchingOrder)
	require.Empty(t, credit.calls)
}

func TestRescanByOrderNoCandidateTransfers(t *testing.T) {
	order := pendingOrder("o-1", "10", "10.0042")

	svc := NewRescanService(testLogger(),
		newTestOrderService(&fakeOrdersRepo{byID: map[string]*entities.Order{"o-1": order}}),
		newMemTransfers(), nil)

	_, err := svc.RescanByOrder(context.Background(), "o-1")
	require.ErrorIs(t, err, ports.ErrNoMatchingOrder)
}
