package handlers

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/telepay/reconciler/internal/core/ports"
	"github.com/telepay/reconciler/internal/entities"
)

const testSignKey = "gateway-secret"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeOrders struct {
	order *entities.Order
}

func (f *fakeOrders) CreatePending(_ context.Context, _ int64, _ decimal.Decimal, _ string) (*entities.Order, error) {
	return nil, nil
}

func (f *fakeOrders) CreateAgentPending(_ context.Context, _ int64, _ decimal.Decimal, _, _ string, _ int) (*entities.Order, error) {
	return nil, nil
}

func (f *fakeOrders) Get(_ context.Context, orderID string) (*entities.Order, error) {
	if f.order == nil || f.order.ID != orderID {
		return nil, ports.ErrOrderNotFound
	}
	return f.order, nil
}

func (f *fakeOrders) OrdersForUser(_ context.Context, _ int64) ([]entities.Order, error) {
	return nil, nil
}

func (f *fakeOrders) PendingStats(_ context.Context, _ time.Time) (*entities.PendingStats, error) {
	return &entities.PendingStats{}, nil
}

type creditCall struct {
	orderID     string
	externalRef string
	amount      decimal.Decimal
}

type fakeCredit struct {
	outcome ports.CreditOutcome
	err     error
	calls   []creditCall
}

func (f *fakeCredit) TryCredit(_ context.Context, orderID, externalRef string, amount decimal.Decimal) (ports.CreditOutcome, error) {
	f.calls = append(f.calls, creditCall{orderID: orderID, externalRef: externalRef, amount: amount})
	return f.outcome, f.err
}

// signForm signs the way the gateway does: non-empty params sorted by key,
// k=v& joined, secret appended, md5 hex.
func signForm(params map[string]string, key string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "sign" || k == "sign_type" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
	}
	sb.WriteString(key)

	sum := md5.Sum([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

func callbackParams(orderID, money string) map[string]string {
	params := map[string]string{
		"out_trade_no": orderID,
		"trade_no":     "gw-2026051012345",
		"money":        money,
		"trade_status": "TRADE_SUCCESS",
		"type":         "alipay",
	}
	params["sign"] = signForm(params, testSignKey)
	params["sign_type"] = "MD5"
	return params
}

func doCallback(t *testing.T, handler *WebhookHandler, params map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	req := httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	router := mux.NewRouter()
	handler.RegisterRoutes(router)
	router.ServeHTTP(rec, req)
	return rec
}

func fiatOrder() *entities.Order {
	return &entities.Order{
		ID:         "20260510120000000042",
		UserID:     7,
		Units:      1,
		BaseAmount: decimal.RequireFromString("100"),
		PayAmount:  decimal.RequireFromString("100.07"),
		Currency:   ports.CurrencyFiat,
		Status:     ports.OrderStatusPending,
	}
}

func TestCallbackKnownVector(t *testing.T) {
	// Golden digest for a fixed parameter set; if the join order or secret
	// placement changes, this breaks.
	params := map[string]string{
		"money":        "100.07",
		"out_trade_no": "20260510120000000042",
		"trade_status": "TRADE_SUCCESS",
	}
	require.Equal(t, "a17b581d37bba3b62f89d12f931d088d",
		signForm(params, "testkey"))
}

func TestCallbackCreditsOrder(t *testing.T) {
	order := fiatOrder()
	credit := &fakeCredit{outcome: ports.CreditOutcomeCredited}
	handler := NewWebhookHandler(testLogger(), &fakeOrders{order: order}, credit, testSignKey)

	rec := doCallback(t, handler, callbackParams(order.ID, "100.07"))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "success", rec.Body.String())
	require.Len(t, credit.calls, 1)
	require.Equal(t, order.ID, credit.calls[0].orderID)
	require.Equal(t, "gw-2026051012345", credit.calls[0].externalRef)
	require.True(t, credit.calls[0].amount.Equal(decimal.RequireFromString("100.07")))
}

func TestCallbackDuplicateIsStillSuccess(t *testing.T) {
	order := fiatOrder()
	credit := &fakeCredit{outcome: ports.CreditOutcomeAlreadyCredited}
	handler := NewWebhookHandler(testLogger(), &fakeOrders{order: order}, credit, testSignKey)

	rec := doCallback(t, handler, callbackParams(order.ID, "100.07"))

	// The gateway retries until it sees "success"; a replay of a credited
	// payment must not look like an error.
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "success", rec.Body.String())
}

func TestCallbackRejectsInvalidSignature(t *testing.T) {
	order := fiatOrder()
	credit := &fakeCredit{outcome: ports.CreditOutcomeCredited}
	handler := NewWebhookHandler(testLogger(), &fakeOrders{order: order}, credit, testSignKey)

	params := callbackParams(order.ID, "100.07")
	params["money"] = "1.00" // mutate a signed field

	rec := doCallback(t, handler, params)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Empty(t, credit.calls)
}

func TestCallbackRejectsMissingSign(t *testing.T) {
	handler := NewWebhookHandler(testLogger(), &fakeOrders{order: fiatOrder()}, &fakeCredit{}, testSignKey)

	params := callbackParams(fiatOrder().ID, "100.07")
	delete(params, "sign")

	rec := doCallback(t, handler, params)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCallbackRejectsWrongTradeStatus(t *testing.T) {
	order := fiatOrder()
	credit := &fakeCredit{outcome: ports.CreditOutcomeCredited}
	handler := NewWebhookHandler(testLogger(), &fakeOrders{order: order}, credit, testSignKey)

	params := map[string]string{
		"out_trade_no": order.ID,
		"money":        "100.07",
		"trade_status": "WAIT_BUYER_PAY",
	}
	params["sign"] = signForm(params, testSignKey)

	rec := doCallback(t, handler, params)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, credit.calls)
}

func TestCallbackAmountMismatch(t *testing.T) {
	order := fiatOrder()
	credit := &fakeCredit{outcome: ports.CreditOutcomeCredited}
	handler := NewWebhookHandler(testLogger(), &fakeOrders{order: order}, credit, testSignKey)

	// 100.07 expected, 100.09 paid: outside the one-cent tolerance
	rec := doCallback(t, handler, callbackParams(order.ID, "100.09"))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Empty(t, credit.calls)
}

func TestCallbackAmountWithinTolerance(t *testing.T) {
	order := fiatOrder()
	credit := &fakeCredit{outcome: ports.CreditOutcomeCredited}
	handler := NewWebhookHandler(testLogger(), &fakeOrders{order: order}, credit, testSignKey)

	rec := doCallback(t, handler, callbackParams(order.ID, "100.08"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, credit.calls, 1)
}

func TestCallbackUnknownOrder(t *testing.T) {
	handler := NewWebhookHandler(testLogger(), &fakeOrders{}, &fakeCredit{}, testSignKey)

	rec := doCallback(t, handler, callbackParams("20269999999999999999", "100.07"))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCallbackStaleOrderConflicts(t *testing.T) {
	order := fiatOrder()
	credit := &fakeCredit{outcome: ports.CreditOutcomeStale}
	handler := NewWebhookHandler(testLogger(), &fakeOrders{order: order}, credit, testSignKey)

	rec := doCallback(t, handler, callbackParams(order.ID, "100.07"))
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCallbackFallbackExternalRef(t *testing.T) {
	order := fiatOrder()
	credit := &fakeCredit{outcome: ports.CreditOutcomeCredited}
	handler := NewWebhookHandler(testLogger(), &fakeOrders{order: order}, credit, testSignKey)

	params := map[string]string{
		"orderid":      order.ID,
		"money":        "100.07",
		"trade_status": "TRADE_SUCCESS",
	}
	params["sign"] = signForm(params, testSignKey)

	rec := doCallback(t, handler, params)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, credit.calls, 1)
	require.Equal(t, "gw-"+order.ID, credit.calls[0].externalRef)
}
