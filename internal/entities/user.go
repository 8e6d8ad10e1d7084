package entities

import "github.com/shopspring/decimal"

// User holds the creditable shop balance.
type User struct {
	UserID  int64           `db:"user_id" json:"user_id"`
	Balance decimal.Decimal `db:"balance" json:"balance"`
}
