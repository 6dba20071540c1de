package coins

import (
	"github.com/fraqlab/coinscot"
)

// Payout is one successful escrow disbursement
type Payout struct {
	User       string
	Amount     int64
	RewardType string
}

// Disburser pays out a closed cycle's escrow and announces the report
type Disburser struct {
	ledger *Ledger
	payer  Payer
	logger coinscot.SLogger
}

// NewDisburser creates a disburser over the ledger
func NewDisburser(ledger *Ledger, payer Payer, logger coinscot.SLogger) (d *Disburser) {
	return &Disburser{ledger: ledger, payer: payer, logger: logger}
}

// Disburse pays every unpaid escrow entry of the group, oldest first, marking
// each entry paid as it goes. Each entry is independently idempotent once
// marked paid, so invoking Disburse twice on the same cycle pays nothing
// twice; a payout failure is logged per entry and the batch continues
func (d *Disburser) Disburse(groupID int64) (payouts []Payout, err error) {
	entries, err := d.ledger.UnpaidEscrow(groupID)
	if err != nil {
		return nil, err
	}

	payouts = make([]Payout, 0, len(entries))
	for _, entry := range entries {
		if err := d.payer.Pay(EscrowAccount, entry.PayeeID, entry.Amount, payoutMemo(entry.Memo)); err != nil {
			d.logger.Printf("[coins] escrow payout of %d to %s failed: %v\n", entry.Amount, entry.PayeeID, err)
			continue
		}

		if err := d.ledger.MarkEscrowPaid(entry.ID); err != nil {
			d.logger.Printf("[coins] failed to mark escrow entry %d paid: %v\n", entry.ID, err)
			continue
		}

		payouts = append(payouts, Payout{User: entry.PayeeID, Amount: entry.Amount, RewardType: describeReward(entry.Memo)})
	}

	if err := d.ledger.CompleteSecretWord(groupID); err != nil {
		d.logger.Printf("[coins] failed to complete secret word for cycle %d: %v\n", groupID, err)
	}

	return payouts, nil
}
