package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/telepay/reconciler/internal/core/ports"
	"github.com/telepay/reconciler/internal/entities"
)

type fakeAgents struct {
	reviewErr  error
	requestErr error
	agent      *entities.Agent
}

func (f *fakeAgents) Register(_ context.Context, _ string, _ decimal.Decimal) error { return nil }

func (f *fakeAgents) Balance(_ context.Context, _ string) (*entities.Agent, error) {
	if f.agent == nil {
		return nil, ports.ErrAgentNotFound
	}
	return f.agent, nil
}

func (f *fakeAgents) Request(_ context.Context, agentID string, amount decimal.Decimal, payoutAddress string) (*entities.WithdrawalRequest, error) {
	if f.requestErr != nil {
		return nil, f.requestErr
	}
	return &entities.WithdrawalRequest{ID: "req-1", AgentID: agentID, Amount: amount, PayoutAddress: payoutAddress}, nil
}

func (f *fakeAgents) Approve(_ context.Context, _ string, _ int64) error { return f.reviewErr }

func (f *fakeAgents) Reject(_ context.Context, _ string, _ int64, _ string) error {
	return f.reviewErr
}

func (f *fakeAgents) MarkPaid(_ context.Context, _ string, _ int64, _ string) error {
	return f.reviewErr
}

func (f *fakeAgents) List(_ context.Context, _, _ string) ([]entities.WithdrawalRequest, error) {
	return nil, nil
}

func adminRequest(t *testing.T, agents AgentService, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	handler := NewAdminHandler(testLogger(), &fakeOrders{}, agents, nil, nil)
	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestApproveWithdrawalStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"ok", nil, http.StatusNoContent},
		{"unknown request", ports.ErrWithdrawalNotFound, http.StatusNotFound},
		{"wrong state", ports.ErrInvalidStateTransition, http.StatusConflict},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := adminRequest(t, &fakeAgents{reviewErr: tc.err},
				http.MethodPost, "/admin/withdrawals/req-1/approve", `{"admin_id":900}`)
			require.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestRequestWithdrawalInsufficientBalance(t *testing.T) {
	rec := adminRequest(t, &fakeAgents{requestErr: ports.ErrInsufficientBalance},
		http.MethodPost, "/agents/agent-1/withdrawals", `{"amount":"100","payout_address":"TAddr1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestWithdrawalRejectsBadAmount(t *testing.T) {
	rec := adminRequest(t, &fakeAgents{},
		http.MethodPost, "/agents/agent-1/withdrawals", `{"amount":"-5","payout_address":"TAddr1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAgentBalanceNotFound(t *testing.T) {
	rec := adminRequest(t, &fakeAgents{}, http.MethodGet, "/agents/ghost/balance", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
