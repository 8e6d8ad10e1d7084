package ports

import "errors"

var (
	// ErrSignatureInvalid rejects a gateway callback before any state change.
	ErrSignatureInvalid = errors.New("gateway signature invalid")

	// ErrNoMatchingOrder means a payment could not be matched to a pending
	// order. The payment is kept and stays visible to the rescan tool.
	ErrNoMatchingOrder = errors.New("no matching pending order")

	// ErrInsufficientConfirmations defers a transfer to a later poll.
	ErrInsufficientConfirmations = errors.New("insufficient confirmations")

	// ErrInvalidStateTransition rejects a withdrawal action whose request is
	// not in the expected source state.
	ErrInvalidStateTransition = errors.New("invalid withdrawal state transition")

	// ErrInsufficientBalance rejects a withdrawal request before any freeze.
	ErrInsufficientBalance = errors.New("insufficient available balance")

	// ErrDuplicatePendingAmount signals a disambiguated-amount collision with
	// another pending order of the same currency; the creator retries with a
	// fresh tail.
	ErrDuplicatePendingAmount = errors.New("duplicate pending pay amount")

	// ErrExternalRefUsed means the external reference already credited some
	// order; treated as an idempotent success by the caller.
	ErrExternalRefUsed = errors.New("external reference already credited")

	ErrOrderNotFound      = errors.New("order not found")
	ErrTransferNotFound   = errors.New("transfer not found")
	ErrAgentNotFound      = errors.New("agent not found")
	ErrWithdrawalNotFound = errors.New("withdrawal request not found")
)
