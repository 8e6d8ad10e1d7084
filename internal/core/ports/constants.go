package ports

// Order lifecycle statuses.
const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusExpired   = "expired"
	OrderStatusCancelled = "cancelled"
)

// Order currencies.
const (
	CurrencyUSDT = "usdt"
	CurrencyFiat = "fiat"
)

// Withdrawal request statuses.
const (
	WithdrawalStatusPending  = "pending"
	WithdrawalStatusApproved = "approved"
	WithdrawalStatusRejected = "rejected"
	WithdrawalStatusPaid     = "paid"
)

// CreditOutcome is the result of a TryCredit call.
type CreditOutcome string

const (
	// CreditOutcomeCredited means the order was transitioned to completed and
	// the balance was applied by this call.
	CreditOutcomeCredited CreditOutcome = "credited"
	// CreditOutcomeAlreadyCredited is the idempotent success: the order was
	// already completed, or the external reference was already consumed.
	CreditOutcomeAlreadyCredited CreditOutcome = "already_credited"
	// CreditOutcomeStale means the order left the pending state by another
	// path (expired/cancelled); no balance was applied.
	CreditOutcomeStale CreditOutcome = "stale"
)
