package coins

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/fraqlab/coinscot"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// systemSeed is the balance SYSTEM is seeded with during replay so it acts as
// an unbounded minting source
const systemSeed = int64(1) << 40

// Correction is a balance difference found by reconciliation
type Correction struct {
	User       string
	Previous   int64
	Recomputed int64
}

// RemovedTransaction is a transaction dropped from the log during replay
type RemovedTransaction struct {
	Transaction
	Reason string
}

// ReconcileReport summarizes one reconciliation run
type ReconcileReport struct {
	RunID       string
	Corrections []Correction
	Removed     []RemovedTransaction
	Replayed    int
}

// Reconciler rebuilds balances from the full transaction history, merging in
// an externally-persisted backup log when one is configured. It runs
// independently of the payment engine's incremental path and is used to
// repair drift. Payments aren't hard-locked out during a run; operationally
// the run is announced and considered a freeze window
type Reconciler struct {
	ledger     *Ledger
	payer      Payer
	backupPath string
	logger     coinscot.SLogger
}

// NewReconciler creates a reconciler. backupPath may be empty when no
// external backup log exists
func NewReconciler(ledger *Ledger, payer Payer, backupPath string, logger coinscot.SLogger) (r *Reconciler) {
	return &Reconciler{ledger: ledger, payer: payer, backupPath: backupPath, logger: logger}
}

// Reconcile replays the merged transaction history from empty balances in
// timestamp order, dropping transactions the running balances can't cover,
// then atomically replaces the balance table and transaction log with the
// recomputed versions. Replays of the same input log are deterministic and
// produce the same corrections
func (r *Reconciler) Reconcile() (report *ReconcileReport, err error) {
	report = &ReconcileReport{RunID: uuid.New().String()}

	txs, err := r.ledger.Transactions()
	if err != nil {
		return nil, err
	}

	if r.backupPath != "" {
		txs, err = r.mergeBackup(txs)
		if err != nil {
			return nil, err
		}
	}

	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].TxTimestamp != txs[j].TxTimestamp {
			return txs[i].TxTimestamp < txs[j].TxTimestamp
		}
		return txs[i].ID < txs[j].ID
	})

	balances := map[string]int64{SystemAccount: systemSeed}
	kept := make([]Transaction, 0, len(txs))

	for _, tx := range txs {
		if balances[tx.PayerID] < tx.Amount {
			report.Removed = append(report.Removed, RemovedTransaction{Transaction: tx, Reason: "NSF"})
			continue
		}

		balances[tx.PayerID] -= tx.Amount
		balances[tx.PayeeID] += tx.Amount

		tx.ID = int64(len(kept) + 1)
		kept = append(kept, tx)
	}

	// Defensive: the NSF check above makes negatives impossible, but clamp
	// anyway to guard against bootstrap anomalies in imported logs
	for user, balance := range balances {
		if user != SystemAccount && balance < 0 {
			balances[user] = 0
		}
	}

	previous, err := r.ledger.AllBalances()
	if err != nil {
		return nil, err
	}

	previousByUser := make(map[string]int64, len(previous))
	for _, a := range previous {
		previousByUser[a.UserID] = a.Balance
	}

	users := make(map[string]bool)
	for u := range previousByUser {
		users[u] = true
	}
	for u := range balances {
		if u != SystemAccount {
			users[u] = true
		}
	}

	accounts := make([]Account, 0, len(users))
	sorted := make([]string, 0, len(users))
	for u := range users {
		sorted = append(sorted, u)
	}
	sort.Strings(sorted)

	for _, u := range sorted {
		recomputed := balances[u]
		accounts = append(accounts, Account{UserID: u, Balance: recomputed})

		if prev := previousByUser[u]; prev != recomputed {
			report.Corrections = append(report.Corrections, Correction{User: u, Previous: prev, Recomputed: recomputed})
		}
	}

	if err = r.ledger.Replace(accounts, kept); err != nil {
		return nil, err
	}

	report.Replayed = len(kept)
	r.logger.Printf("[coins] reconciliation %s replayed %d transactions, %d corrections, %d removed\n",
		report.RunID, report.Replayed, len(report.Corrections), len(report.Removed))

	return report, nil
}

// mergeBackup folds the pipe-delimited backup log into the primary
// transaction list, recovering entries missing from the primary store.
// Entries match on (timestamp, payee, amount)
func (r *Reconciler) mergeBackup(txs []Transaction) (merged []Transaction, err error) {
	f, err := os.Open(r.backupPath)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Debugf("[coins] no backup log at [%s], skipping merge\n", r.backupPath)
			return txs, nil
		}
		return nil, errors.Wrapf(err, "failed to open backup log [%s]", r.backupPath)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = '|'
	reader.FieldsPerRecord = 5

	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse backup log [%s]", r.backupPath)
	}

	known := make(map[string]bool, len(txs))
	for _, tx := range txs {
		known[mergeKey(tx.TxTimestamp, tx.PayeeID, tx.Amount)] = true
	}

	merged = txs
	for i, rec := range records {
		if i == 0 && rec[0] == "Timestamp" {
			continue
		}

		ts, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			r.logger.Printf("[coins] skipping unparseable backup row %d: %v\n", i+1, err)
			continue
		}

		amount, err := strconv.ParseInt(rec[3], 10, 64)
		if err != nil {
			r.logger.Printf("[coins] skipping unparseable backup row %d: %v\n", i+1, err)
			continue
		}

		tx := Transaction{PayerID: rec[1], PayeeID: rec[2], Amount: amount, Memo: rec[4], TxTimestamp: ts}
		if known[mergeKey(tx.TxTimestamp, tx.PayeeID, tx.Amount)] {
			continue
		}

		known[mergeKey(tx.TxTimestamp, tx.PayeeID, tx.Amount)] = true
		merged = append(merged, tx)
	}

	return merged, nil
}

func mergeKey(ts int64, payee string, amount int64) string {
	return fmt.Sprintf("%d|%s|%d", ts, payee, amount)
}

// ExportBackup writes the full transaction log in the pipe-delimited backup
// format mergeBackup consumes
func (r *Reconciler) ExportBackup(path string) (err error) {
	txs, err := r.ledger.Transactions()
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create backup log [%s]", path)
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	writer.Comma = '|'

	if err = writer.Write([]string{"Timestamp", "Payer", "Payee", "Amount", "Memo"}); err != nil {
		return errors.Wrap(err, "failed to write backup log header")
	}

	for _, tx := range txs {
		row := []string{
			strconv.FormatInt(tx.TxTimestamp, 10),
			tx.PayerID,
			tx.PayeeID,
			strconv.FormatInt(tx.Amount, 10),
			tx.Memo,
		}
		if err = writer.Write(row); err != nil {
			return errors.Wrap(err, "failed to write backup log row")
		}
	}

	writer.Flush()
	return errors.Wrap(writer.Error(), "failed to flush backup log")
}

// DedupeUser finds duplicated moin mining payouts for a user and reverses
// them. Candidate pairs are consecutive escrow payouts with identical amount
// and the moin payout memo; a pair is confirmed a duplicate when the escrow
// entries of the two surrounding pool cycles contain only one matching entry.
// The later transaction's effect is reversed and its memo is annotated so
// later runs skip it
func (r *Reconciler) DedupeUser(user string) (reversed []Transaction, err error) {
	txs, err := r.ledger.MoinPayouts(user)
	if err != nil {
		return nil, err
	}

	reversed = make([]Transaction, 0)

	for i := 1; i < len(txs); i++ {
		previous, candidate := txs[i-1], txs[i]
		if previous.Amount != candidate.Amount {
			continue
		}

		cycles, err := r.ledger.CyclesCovering(previous.TxTimestamp, candidate.TxTimestamp)
		if err != nil {
			return nil, err
		}

		groupIDs := make([]int64, 0, len(cycles))
		for _, c := range cycles {
			groupIDs = append(groupIDs, c.ID)
		}

		if len(groupIDs) == 0 {
			continue
		}

		entries, err := r.ledger.EscrowEntriesForGroups(groupIDs...)
		if err != nil {
			return nil, err
		}

		matching := 0
		for _, e := range entries {
			if e.PayeeID == user && e.Amount == candidate.Amount {
				matching++
			}
		}

		if matching != 1 {
			continue
		}

		if err = r.payer.Pay(user, EscrowAccount, candidate.Amount, CorrectionMemo); err != nil {
			return nil, errors.Wrapf(err, "failed to reverse duplicate payout [%d] for [%s]", candidate.ID, user)
		}

		if err = r.ledger.AnnotateTransaction(candidate.ID, duplicateAnnotation); err != nil {
			return nil, err
		}

		r.logger.Printf("[coins] reversed duplicate payout of %d to %s (tx %d)\n", candidate.Amount, user, candidate.ID)
		reversed = append(reversed, candidate)

		// The surviving payout can't anchor another pair
		i++
	}

	return reversed, nil
}

// DedupeAll runs DedupeUser over every user account
func (r *Reconciler) DedupeAll() (reversed []Transaction, err error) {
	accounts, err := r.ledger.AllBalances()
	if err != nil {
		return nil, err
	}

	reversed = make([]Transaction, 0)
	for _, a := range accounts {
		if !userIDRegexp.MatchString(a.UserID) {
			continue
		}

		userReversed, err := r.DedupeUser(a.UserID)
		if err != nil {
			return nil, err
		}

		reversed = append(reversed, userReversed...)
	}

	return reversed, nil
}
