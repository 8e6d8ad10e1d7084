package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is a pending top-up created by the shop frontend. PayAmount carries a
// small random fractional tail on top of BaseAmount so concurrent orders of the
// same base amount stay distinguishable on the wire.
type Order struct {
	ID             string           `db:"id"              json:"id"`
	UserID         int64            `db:"user_id"         json:"user_id"`
	AgentID        *string          `db:"agent_id"        json:"agent_id,omitempty"`
	Units          int              `db:"units"           json:"units"`
	BaseAmount     decimal.Decimal  `db:"base_amount"     json:"base_amount"`
	PayAmount      decimal.Decimal  `db:"pay_amount"      json:"pay_amount"`
	Currency       string           `db:"currency"        json:"currency"`
	Status         string           `db:"status"          json:"status"`
	CreditedRef    *string          `db:"credited_ref"    json:"credited_ref,omitempty"`
	CreditedAmount *decimal.Decimal `db:"credited_amount" json:"credited_amount,omitempty"`
	CreditedAt     *time.Time       `db:"credited_at"     json:"credited_at,omitempty"`
	CreatedAt      time.Time        `db:"created_at"      json:"created_at"`
	ExpireAt       time.Time        `db:"expire_at"       json:"expire_at"`
}

// IsAgentOrder reports whether completing the order accrues reseller commission.
func (o *Order) IsAgentOrder() bool {
	return o.AgentID != nil && *o.AgentID != ""
}

// PendingStats is the admin view over the pending order book.
type PendingStats struct {
	Pending     int             `json:"pending"`
	PendingSum  decimal.Decimal `json:"pending_sum"`
	DueToExpire int             `json:"due_to_expire"`
}
