package coins

import (
	"github.com/pkg/errors"
)

// ErrInsufficientFunds is returned by Pay when the payer's balance is below
// the requested amount. It's a normal, expected outcome that callers report
// as a friendly message rather than logging as an error
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrInvalidAmount is returned by Pay when the amount isn't a positive integer
var ErrInvalidAmount = errors.New("amount must be a positive integer")

// IsInsufficientFunds returns true if the error is an NSF rejection
func IsInsufficientFunds(err error) bool {
	return errors.Cause(err) == ErrInsufficientFunds
}
