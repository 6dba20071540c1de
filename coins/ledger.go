package coins

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Ledger owns the durable balance table, the append-only transaction log and
// the pool/secret-word/escrow records. All balance mutations funnel through
// Pay so the transaction log and balance table stay consistent; the mutex
// serializes the read-modify-write sequences of concurrent message handlers
type Ledger struct {
	db *gorm.DB
	mu sync.Mutex

	startingValue int64
	now           func() int64
}

// defaultStartingValue is the balance an account is created with on first access
const defaultStartingValue = 20

// Open opens (or creates) the ledger database under storagePath
func Open(storagePath string, name string, startingValue int64) (l *Ledger, err error) {
	path, err := homedir.Expand(storagePath)
	if err != nil {
		return nil, err
	}

	if err = os.MkdirAll(path, 0700); err != nil {
		return nil, errors.Wrapf(err, "failed to create storage directory [%s]", path)
	}

	db, err := gorm.Open(sqlite.Open(filepath.Join(path, name+".sqlite")), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open ledger database in [%s]", path)
	}

	return NewLedger(db, startingValue)
}

// NewLedger wires a ledger over an open gorm DB, migrating the schema as
// needed. Tests typically pass an in-memory sqlite DB
func NewLedger(db *gorm.DB, startingValue int64) (l *Ledger, err error) {
	if startingValue <= 0 {
		startingValue = defaultStartingValue
	}

	err = db.AutoMigrate(&Account{}, &Transaction{}, &PoolCycle{}, &SecretWord{}, &EscrowEntry{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to migrate ledger schema")
	}

	l = &Ledger{db: db, startingValue: startingValue, now: func() int64 { return time.Now().Unix() }}

	if err = l.runMigrations(); err != nil {
		return nil, err
	}

	return l, nil
}

// Balance returns the account's balance. With createIfMissing, an account seen
// for the first time is created with the configured starting value and a
// "Starting Balance" transaction from SYSTEM is recorded
func (l *Ledger) Balance(user string, createIfMissing bool) (balance int64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	err = l.db.Transaction(func(tx *gorm.DB) error {
		balance, err = l.balanceTx(tx, user, createIfMissing)
		return err
	})

	return balance, err
}

// balanceTx reads (and lazily creates) a balance within an enclosing storage
// transaction. SYSTEM has no balance row and reads as zero
func (l *Ledger) balanceTx(tx *gorm.DB, user string, createIfMissing bool) (balance int64, err error) {
	var account Account
	err = tx.First(&account, "user = ?", user).Error
	if err == nil {
		return account.Balance, nil
	}

	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, errors.Wrapf(err, "failed to read balance for [%s]", user)
	}

	if !createIfMissing || user == SystemAccount {
		return 0, nil
	}

	if err = l.setBalanceTx(tx, user, l.startingValue); err != nil {
		return 0, err
	}

	if err = l.appendTransactionTx(tx, SystemAccount, user, l.startingValue, StartingBalanceMemo, l.now()); err != nil {
		return 0, err
	}

	return l.startingValue, nil
}

// setBalanceTx is an idempotent balance upsert within an enclosing storage transaction
func (l *Ledger) setBalanceTx(tx *gorm.DB, user string, amount int64) (err error) {
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user"}},
		DoUpdates: clause.AssignmentColumns([]string{"balance"}),
	}).Create(&Account{UserID: user, Balance: amount}).Error

	return errors.Wrapf(err, "failed to upsert balance for [%s]", user)
}

// appendTransactionTx appends one transaction record within an enclosing
// storage transaction
func (l *Ledger) appendTransactionTx(tx *gorm.DB, payer string, payee string, amount int64, memo string, ts int64) (err error) {
	record := Transaction{PayerID: payer, PayeeID: payee, Amount: amount, Memo: memo, TxTimestamp: ts}
	return errors.Wrap(tx.Create(&record).Error, "failed to append transaction")
}

// AllBalances returns every account row ordered by ascending balance
func (l *Ledger) AllBalances() (accounts []Account, err error) {
	err = l.db.Order("balance asc").Find(&accounts).Error
	return accounts, errors.Wrap(err, "failed to scan balances")
}

// Transactions returns the full transaction log in timestamp order
func (l *Ledger) Transactions() (txs []Transaction, err error) {
	err = l.db.Order("tx_timestamp asc, id asc").Find(&txs).Error
	return txs, errors.Wrap(err, "failed to load transaction log")
}

// MoinPayouts returns the escrow→user moin payout transactions in timestamp
// order. Transactions already annotated by dedupe no longer carry the exact
// payout memo and are naturally skipped
func (l *Ledger) MoinPayouts(user string) (txs []Transaction, err error) {
	err = l.db.Where("payer_id = ? AND payee_id = ? AND memo = ?", EscrowAccount, user, MoinPayoutMemo).
		Order("tx_timestamp asc, id asc").Find(&txs).Error
	return txs, errors.Wrapf(err, "failed to load moin payouts for [%s]", user)
}

// AnnotateTransaction appends an annotation to a transaction's memo. Used by
// dedupe to mark reversed duplicates so later runs skip them
func (l *Ledger) AnnotateTransaction(id int64, annotation string) (err error) {
	err = l.db.Model(&Transaction{}).Where("id = ?", id).
		Update("memo", gorm.Expr("memo || ' ' || ?", annotation)).Error
	return errors.Wrapf(err, "failed to annotate transaction [%d]", id)
}

// CurrentCycle returns the most recent pool cycle or nil if no refill ever happened
func (l *Ledger) CurrentCycle() (cycle *PoolCycle, err error) {
	var c PoolCycle
	err = l.db.Order("id desc").First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load current pool cycle")
	}

	return &c, nil
}

// RecordCycle appends a new pool cycle row and returns it
func (l *Ledger) RecordCycle(fillup int64, nextFillup int64, amount int64) (cycle PoolCycle, err error) {
	cycle = PoolCycle{FillupTimestamp: fillup, NextFillupTimestamp: nextFillup, Amount: amount}
	err = l.db.Create(&cycle).Error
	return cycle, errors.Wrap(err, "failed to record pool cycle")
}

// PutSecretWord records the secret word for a cycle
func (l *Ledger) PutSecretWord(cycleID int64, ts int64, word string, sourceUser string) (err error) {
	sw := SecretWord{ID: cycleID, Timestamp: ts, Word: word, SourceUser: sourceUser}
	err = l.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"ts", "secret_word", "source_user"}),
	}).Create(&sw).Error
	return errors.Wrapf(err, "failed to record secret word for cycle [%d]", cycleID)
}

// CurrentSecretWord returns the incomplete secret word or nil if none exists
func (l *Ledger) CurrentSecretWord() (sw *SecretWord, err error) {
	var word SecretWord
	err = l.db.Where("completed = ?", false).Order("id desc").First(&word).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load current secret word")
	}

	return &word, nil
}

// CompleteSecretWord marks a cycle's secret word as completed
func (l *Ledger) CompleteSecretWord(cycleID int64) (err error) {
	err = l.db.Model(&SecretWord{}).Where("id = ?", cycleID).Update("completed", true).Error
	return errors.Wrapf(err, "failed to complete secret word for cycle [%d]", cycleID)
}

// RecentSecretWords returns the last n secret words, most recent first
func (l *Ledger) RecentSecretWords(n int) (words []string, err error) {
	var rows []SecretWord
	err = l.db.Order("id desc").Limit(n).Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to load recent secret words")
	}

	words = make([]string, 0, len(rows))
	for _, r := range rows {
		words = append(words, r.Word)
	}

	return words, nil
}

// SecretWordForCycle returns the secret word row for a given cycle id or nil
func (l *Ledger) SecretWordForCycle(cycleID int64) (sw *SecretWord, err error) {
	var word SecretWord
	err = l.db.First(&word, "id = ?", cycleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load secret word for cycle [%d]", cycleID)
	}

	return &word, nil
}

// AddEscrowEntry records a pending mining reward for the given escrow group
func (l *Ledger) AddEscrowEntry(groupID int64, payee string, amount int64, memo string) (entry EscrowEntry, err error) {
	entry = EscrowEntry{EscrowGroupID: groupID, PayeeID: payee, Amount: amount, Memo: memo, TxTimestamp: l.now()}
	err = l.db.Create(&entry).Error
	return entry, errors.Wrap(err, "failed to add escrow entry")
}

// UnpaidEscrow returns the unpaid escrow entries for a group in ascending order
func (l *Ledger) UnpaidEscrow(groupID int64) (entries []EscrowEntry, err error) {
	err = l.db.Where("escrow_group_id = ? AND paid = ?", groupID, false).Order("id asc").Find(&entries).Error
	return entries, errors.Wrapf(err, "failed to load unpaid escrow for group [%d]", groupID)
}

// EscrowEntriesForGroups returns all escrow entries belonging to the given groups
func (l *Ledger) EscrowEntriesForGroups(groupIDs ...int64) (entries []EscrowEntry, err error) {
	err = l.db.Where("escrow_group_id IN ?", groupIDs).Order("id asc").Find(&entries).Error
	return entries, errors.Wrap(err, "failed to load escrow entries")
}

// MarkEscrowPaid flags an escrow entry as paid so a repeated disbursement run
// doesn't pay it again
func (l *Ledger) MarkEscrowPaid(entryID int64) (err error) {
	err = l.db.Model(&EscrowEntry{}).Where("id = ?", entryID).Update("paid", true).Error
	return errors.Wrapf(err, "failed to mark escrow entry [%d] paid", entryID)
}

// CyclesCovering returns the pool cycles that were current at each of the
// given timestamps, without duplicates, most recent first
func (l *Ledger) CyclesCovering(timestamps ...int64) (cycles []PoolCycle, err error) {
	seen := make(map[int64]bool)
	for _, ts := range timestamps {
		var c PoolCycle
		err = l.db.Where("fillup_timestamp <= ?", ts).Order("id desc").First(&c).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to resolve pool cycle for timestamp")
		}

		if !seen[c.ID] {
			seen[c.ID] = true
			cycles = append(cycles, c)
		}
	}

	return cycles, nil
}

// Replace atomically swaps the balance table and transaction log for the
// recomputed versions produced by reconciliation
func (l *Ledger) Replace(accounts []Account, txs []Transaction) (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	err = l.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Account{}).Error; err != nil {
			return err
		}

		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Transaction{}).Error; err != nil {
			return err
		}

		if len(accounts) > 0 {
			if err := tx.Create(&accounts).Error; err != nil {
				return err
			}
		}

		if len(txs) > 0 {
			if err := tx.Create(&txs).Error; err != nil {
				return err
			}
		}

		return nil
	})

	return errors.Wrap(err, "failed to replace ledger state")
}
