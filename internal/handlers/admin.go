package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/telepay/reconciler/internal/core/ports"
	"github.com/telepay/reconciler/internal/entities"
	"github.com/telepay/reconciler/internal/usecases"
)

var (
	_ OrderService  = (*usecases.OrderService)(nil)
	_ AgentService  = (*usecases.AgentService)(nil)
	_ RescanService = (*usecases.RescanService)(nil)
)

// AdminHandler exposes the reconciliation admin surface: rescans, pending
// order statistics, unmatched transfers and the withdrawal review workflow.
type AdminHandler struct {
	logger *slog.Logger

	orders    OrderService
	agents    AgentService
	rescan    RescanService
	transfers TransfersView
}

func NewAdminHandler(
	logger *slog.Logger,
	orders OrderService,
	agents AgentService,
	rescan RescanService,
	transfers TransfersView,
) *AdminHandler {
	return &AdminHandler{
		logger:    logger,
		orders:    orders,
		agents:    agents,
		rescan:    rescan,
		transfers: transfers,
	}
}

func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	// Orders
	router.HandleFunc("/orders", h.CreateOrder).Methods("POST")
	router.HandleFunc("/orders/user", h.GetUserOrders).Methods("GET")
	router.HandleFunc("/admin/orders/pending", h.GetPendingStats).Methods("GET")

	// Rescan
	router.HandleFunc("/admin/rescan/tx/{txid}", h.RescanByTxid).Methods("POST")
	router.HandleFunc("/admin/rescan/order/{orderId}", h.RescanByOrder).Methods("POST")
	router.HandleFunc("/admin/transfers/unmatched", h.GetUnmatchedTransfers).Methods("GET")

	// Agents and withdrawals
	router.HandleFunc("/agents", h.RegisterAgent).Methods("POST")
	router.HandleFunc("/agents/{agentId}/balance", h.GetAgentBalance).Methods("GET")
	router.HandleFunc("/agents/{agentId}/withdrawals", h.RequestWithdrawal).Methods("POST")
	router.HandleFunc("/admin/withdrawals", h.ListWithdrawals).Methods("GET")
	router.HandleFunc("/admin/withdrawals/{requestId}/approve", h.ApproveWithdrawal).Methods("POST")
	router.HandleFunc("/admin/withdrawals/{requestId}/reject", h.RejectWithdrawal).Methods("POST")
	router.HandleFunc("/admin/withdrawals/{requestId}/pay", h.PayWithdrawal).Methods("POST")
}

type createOrderRequest struct {
	UserID   int64  `json:"user_id"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	AgentID  string `json:"agent_id,omitempty"`
	Units    int    `json:"units,omitempty"`
}

func (h *AdminHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return
	}

	var order *entities.Order
	if req.AgentID != "" {
		units := req.Units
		if units == 0 {
			units = 1
		}
		order, err = h.orders.CreateAgentPending(r.Context(), req.UserID, amount, req.Currency, req.AgentID, units)
	} else {
		order, err = h.orders.CreatePending(r.Context(), req.UserID, amount, req.Currency)
	}
	if err != nil {
		h.logger.Error("Failed to create pending order", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

func (h *AdminHandler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	userIDParam := r.URL.Query().Get("user_id")
	if userIDParam == "" {
		http.Error(w, "Missing required parameters: user_id", http.StatusBadRequest)
		return
	}

	userID, err := strconv.ParseInt(userIDParam, 10, 64)
	if err != nil {
		http.Error(w, "invalid user_id", http.StatusBadRequest)
		return
	}

	orders, err := h.orders.OrdersForUser(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, orders)
}

func (h *AdminHandler) GetPendingStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.orders.PendingStats(r.Context(), time.Now().UTC())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

type rescanResponse struct {
	Outcome string `json:"outcome"`
}

func (h *AdminHandler) RescanByTxid(w http.ResponseWriter, r *http.Request) {
	txid := mux.Vars(r)["txid"]

	outcome, err := h.rescan.RescanByTxid(r.Context(), txid)
	if err != nil {
		h.writeRescanError(w, err, "txid", txid)
		return
	}

	writeJSON(w, http.StatusOK, rescanResponse{Outcome: string(outcome)})
}

func (h *AdminHandler) RescanByOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]

	outcome, err := h.rescan.RescanByOrder(r.Context(), orderID)
	if err != nil {
		h.writeRescanError(w, err, "order_id", orderID)
		return
	}

	writeJSON(w, http.StatusOK, rescanResponse{Outcome: string(outcome)})
}

func (h *AdminHandler) writeRescanError(w http.ResponseWriter, err error, key, value string) {
	switch {
	case errors.Is(err, ports.ErrTransferNotFound), errors.Is(err, ports.ErrOrderNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ports.ErrNoMatchingOrder), errors.Is(err, ports.ErrInsufficientConfirmations):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("Rescan failed", key, value, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *AdminHandler) GetUnmatchedTransfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.transfers.FindUnmatched(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, transfers)
}

type registerAgentRequest struct {
	AgentID       string `json:"agent_id"`
	MarkupPerUnit string `json:"markup_per_unit"`
}

func (h *AdminHandler) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgentID == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	markup, err := decimal.NewFromString(req.MarkupPerUnit)
	if err != nil || markup.IsNegative() {
		http.Error(w, "invalid markup_per_unit", http.StatusBadRequest)
		return
	}

	if err = h.agents.Register(r.Context(), req.AgentID, markup); err != nil {
		h.logger.Error("Failed to register agent", "agent_id", req.AgentID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (h *AdminHandler) GetAgentBalance(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agentId"]

	agent, err := h.agents.Balance(r.Context(), agentID)
	if errors.Is(err, ports.ErrAgentNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, agent)
}

type requestWithdrawalRequest struct {
	Amount        string `json:"amount"`
	PayoutAddress string `json:"payout_address"`
}

func (h *AdminHandler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agentId"]

	var req requestWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return
	}

	request, err := h.agents.Request(r.Context(), agentID, amount, req.PayoutAddress)
	switch {
	case errors.Is(err, ports.ErrInsufficientBalance):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, ports.ErrAgentNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		h.logger.Error("Withdrawal request failed", "agent_id", agentID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, request)
}

func (h *AdminHandler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	withdrawals, err := h.agents.List(r.Context(),
		r.URL.Query().Get("agent_id"), r.URL.Query().Get("status"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, withdrawals)
}

type reviewRequest struct {
	AdminID   int64  `json:"admin_id"`
	Reason    string `json:"reason,omitempty"`
	PayoutRef string `json:"payout_ref,omitempty"`
}

func (h *AdminHandler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, func(requestID string, req reviewRequest) error {
		return h.agents.Approve(r.Context(), requestID, req.AdminID)
	})
}

func (h *AdminHandler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, func(requestID string, req reviewRequest) error {
		return h.agents.Reject(r.Context(), requestID, req.AdminID, req.Reason)
	})
}

func (h *AdminHandler) PayWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, func(requestID string, req reviewRequest) error {
		return h.agents.MarkPaid(r.Context(), requestID, req.AdminID, req.PayoutRef)
	})
}

func (h *AdminHandler) review(w http.ResponseWriter, r *http.Request, action func(string, reviewRequest) error) {
	requestID := mux.Vars(r)["requestId"]

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := action(requestID, req)
	switch {
	case errors.Is(err, ports.ErrWithdrawalNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ports.ErrInvalidStateTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		h.logger.Error("Withdrawal review action failed", "request_id", requestID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
