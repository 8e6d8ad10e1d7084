package handlers

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/telepay/reconciler/internal/core/ports"
	"github.com/telepay/reconciler/internal/usecases"
)

const tradeStatusSuccess = "TRADE_SUCCESS"

var _ CreditService = (*usecases.CreditServiceImpl)(nil)

type CreditService interface {
	TryCredit(ctx context.Context, orderID, externalRef string, amount decimal.Decimal) (ports.CreditOutcome, error)
}

// WebhookHandler processes fiat gateway callbacks. The response body "success"
// is returned only after a credited or idempotent already-credited outcome, so
// the gateway keeps retrying until the ledger is in a terminal-correct state.
type WebhookHandler struct {
	logger *slog.Logger

	orders  OrderService
	credit  CreditService
	signKey string
}

func NewWebhookHandler(logger *slog.Logger, orders OrderService, credit CreditService, signKey string) *WebhookHandler {
	return &WebhookHandler{
		logger:  logger,
		orders:  orders,
		credit:  credit,
		signKey: signKey,
	}
}

func (h *WebhookHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/callback", h.Callback).Methods("GET", "POST")
}

func (h *WebhookHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	params := make(map[string]string, len(r.Form))
	for key := range r.Form {
		params[key] = r.Form.Get(key)
	}

	if !verifyGatewaySign(params, h.signKey) {
		h.logger.Warn("Gateway callback rejected",
			"out_trade_no", params["out_trade_no"], "error", ports.ErrSignatureInvalid)
		http.Error(w, ports.ErrSignatureInvalid.Error(), http.StatusForbidden)
		return
	}

	orderID := params["out_trade_no"]
	if orderID == "" {
		orderID = params["orderid"]
	}

	money, err := decimal.NewFromString(params["money"])
	if err != nil || orderID == "" || !money.IsPositive() {
		h.logger.Warn("Gateway callback rejected: invalid data",
			"out_trade_no", orderID, "money", params["money"])
		http.Error(w, "invalid data", http.StatusBadRequest)
		return
	}

	if !strings.EqualFold(params["trade_status"], tradeStatusSuccess) {
		h.logger.Warn("Gateway callback rejected: trade not successful",
			"out_trade_no", orderID, "trade_status", params["trade_status"])
		http.Error(w, "trade status error", http.StatusBadRequest)
		return
	}

	order, err := h.orders.Get(r.Context(), orderID)
	if err != nil || order == nil {
		h.logger.Warn("Gateway callback: order not found", "out_trade_no", orderID)
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}

	if money.Sub(order.PayAmount).Abs().GreaterThan(usecases.ToleranceFor(order.Currency)) {
		h.logger.Warn("Gateway callback: amount mismatch",
			"out_trade_no", orderID,
			"expected", order.PayAmount.String(),
			"received", money.String())
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}

	// The gateway's own trade number is the idempotency key; the order id is
	// the fallback for gateways that omit one.
	externalRef := params["trade_no"]
	if externalRef == "" {
		externalRef = "gw-" + orderID
	}

	outcome, err := h.credit.TryCredit(r.Context(), order.ID, externalRef, money)
	if err != nil {
		h.logger.Error("Gateway callback: credit failed", "out_trade_no", orderID, "error", err)
		http.Error(w, "payment processing failed", http.StatusInternalServerError)
		return
	}

	switch outcome {
	case ports.CreditOutcomeCredited, ports.CreditOutcomeAlreadyCredited:
		h.logger.Info("Gateway callback processed",
			"out_trade_no", orderID, "outcome", string(outcome))
		fmt.Fprint(w, "success")
	default:
		// The order left pending by another path; the gateway operator has
		// to reconcile manually.
		http.Error(w, "order state conflict", http.StatusConflict)
	}
}

// verifyGatewaySign recomputes the keyed MD5 over all non-empty parameters
// except sign/sign_type, sorted by key and joined as k=v&...; the shared
// secret is appended last. Comparison is case-insensitive on the hex digest.
func verifyGatewaySign(params map[string]string, key string) bool {
	if key == "" {
		return false
	}

	originalSign := params["sign"]
	if originalSign == "" {
		return false
	}

	if signType, ok := params["sign_type"]; ok && !strings.EqualFold(signType, "MD5") {
		return false
	}

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
	calculated := hex.EncodeToString(sum[:])

	return subtle.ConstantTimeCompare(
		[]byte(calculated), []byte(strings.ToLower(originalSign))) == 1
}
