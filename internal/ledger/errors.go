package ledger

import "errors"

var (
	// ErrInsufficientMargin rejects an open when the required margin
	// exceeds the account balance.
	ErrInsufficientMargin = errors.New("insufficient margin")
	// ErrInsufficientFunds rejects a withdrawal larger than the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrAlreadyClosed rejects a second close of the same position.
	ErrAlreadyClosed = errors.New("position already closed")
	// ErrInvalidState rejects status transitions on anything other than
	// a pending withdrawal.
	ErrInvalidState = errors.New("transaction is not a pending withdrawal")
	// ErrDuplicateReference rejects crediting the same external deposit
	// reference twice.
	ErrDuplicateReference = errors.New("deposit reference already credited")
)

// ValidationError marks malformed input, rejected before any state is
// touched.
type ValidationError string

func (e ValidationError) Error() string { return string(e) }

func IsValidation(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}
