package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferEvent is one mirrored TRC20 transfer to the deposit address. TxID is
// the global idempotency key; Amount is already converted from sun.
type TransferEvent struct {
	TxID        string          `db:"txid"         json:"txid"`
	ToAddress   string          `db:"to_address"   json:"to_address"`
	Amount      decimal.Decimal `db:"amount"       json:"amount"`
	BlockNumber int64           `db:"block_number" json:"block_number"`
	EventTime   time.Time       `db:"event_time"   json:"event_time"`
	ObservedAt  time.Time       `db:"observed_at"  json:"observed_at"`
	Processed   bool            `db:"processed"    json:"processed"`
	OrderID     *string         `db:"order_id"     json:"order_id,omitempty"`
}
