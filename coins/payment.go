package coins

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Payer is the payment engine interface: the single choke point for every
// balance mutation. Implemented by Ledger and by the telemetry decorator
type Payer interface {
	Pay(payer string, payee string, amount int64, memo string) (err error)
}

// Pay atomically transfers amount from payer to payee and appends one
// transaction record. It returns ErrInsufficientFunds without any mutation if
// the payer's balance is below the amount. SYSTEM is exempt from the balance
// check and acts as an unbounded minting source.
//
// The debit, credit and transaction append run in a single storage
// transaction under the ledger lock so concurrent calls on the same accounts
// can't partially apply. Note that payer == payee isn't rejected here: the
// user-facing command layer rejects self-payments, system-internal transfers
// never produce them
func (l *Ledger) Pay(payer string, payee string, amount int64, memo string) (err error) {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	err = l.db.Transaction(func(tx *gorm.DB) error {
		if payer != SystemAccount {
			payerBalance, err := l.balanceTx(tx, payer, false)
			if err != nil {
				return err
			}

			if amount > payerBalance {
				return ErrInsufficientFunds
			}

			if err = l.setBalanceTx(tx, payer, payerBalance-amount); err != nil {
				return err
			}
		}

		payeeBalance, err := l.balanceTx(tx, payee, false)
		if err != nil {
			return err
		}

		if err = l.setBalanceTx(tx, payee, payeeBalance+amount); err != nil {
			return err
		}

		return l.appendTransactionTx(tx, payer, payee, amount, memo, l.now())
	})

	if err != nil && !IsInsufficientFunds(err) {
		return errors.Wrapf(err, "payment of [%d] from [%s] to [%s] failed", amount, payer, payee)
	}

	return err
}
