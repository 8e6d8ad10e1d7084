package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// Agent is a reseller whose bots sell on top of the base catalog price.
// Invariant: ProfitAvailable + ProfitFrozen + TotalPaid equals cumulative
// accrued markup and never decreases.
type Agent struct {
	AgentID         string          `db:"agent_id"          json:"agent_id"`
	MarkupPerUnit   decimal.Decimal `db:"markup_per_unit"   json:"markup_per_unit"`
	ProfitAvailable decimal.Decimal `db:"profit_available"  json:"profit_available"`
	ProfitFrozen    decimal.Decimal `db:"profit_frozen"     json:"profit_frozen"`
	TotalPaid       decimal.Decimal `db:"total_paid"        json:"total_paid"`
	CreatedAt       time.Time       `db:"created_at"        json:"created_at"`
}

// WithdrawalRequest moves agent profit between available/frozen/paid.
// Amount is gross; Fee is informational for the payout operator.
type WithdrawalRequest struct {
	ID            string          `db:"id"             json:"id"`
	AgentID       string          `db:"agent_id"       json:"agent_id"`
	Amount        decimal.Decimal `db:"amount"         json:"amount"`
	Fee           decimal.Decimal `db:"fee"            json:"fee"`
	PayoutAddress string          `db:"payout_address" json:"payout_address"`
	Status        string          `db:"status"         json:"status"`
	PayoutRef     *string         `db:"payout_ref"     json:"payout_ref,omitempty"`
	RejectReason  *string         `db:"reject_reason"  json:"reject_reason,omitempty"`
	CreatedAt     time.Time       `db:"created_at"     json:"created_at"`
	ReviewedAt    *time.Time      `db:"reviewed_at"    json:"reviewed_at,omitempty"`
	ReviewedBy    *int64          `db:"reviewed_by"    json:"reviewed_by,omitempty"`
}
