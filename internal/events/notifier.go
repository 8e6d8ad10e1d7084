package events

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
)

// LogNotifier records outbound events in the structured log. Message rendering
// and delivery to the chat platform live outside this service; downstream
// consumers tail these events.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) OrderCredited(ctx context.Context, userID int64, amount decimal.Decimal, orderID string) {
	n.logger.InfoContext(ctx, "event: order credited",
		"user_id", userID,
		"amount", amount.String(),
		"order_id", orderID)
}

func (n *LogNotifier) WithdrawalStateChanged(ctx context.Context, agentID, requestID, newStatus string) {
	n.logger.InfoContext(ctx, "event: withdrawal state changed",
		"agent_id", agentID,
		"request_id", requestID,
		"new_status", newStatus)
}
