package coins

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fraqlab/coinscot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) (db *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "ledger.sqlite")), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	return db
}

func newTestLedger(t *testing.T) (l *Ledger) {
	l, err := NewLedger(newTestDB(t), 20)
	require.NoError(t, err)

	return l
}

func newTestLogger() coinscot.SLogger {
	var b strings.Builder
	return coinscot.NewSLogger(log.New(&b, "", 0), true)
}

func TestBalanceCreatedOnFirstAccess(t *testing.T) {
	l := newTestLedger(t)

	balance, err := l.Balance("U12345", true)
	require.NoError(t, err)
	assert.Equal(t, int64(20), balance)

	txs, err := l.Transactions()
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, SystemAccount, txs[0].PayerID)
	assert.Equal(t, "U12345", txs[0].PayeeID)
	assert.Equal(t, int64(20), txs[0].Amount)
	assert.Equal(t, StartingBalanceMemo, txs[0].Memo)
}

func TestBalanceWithoutCreation(t *testing.T) {
	l := newTestLedger(t)

	balance, err := l.Balance("U12345", false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	txs, err := l.Transactions()
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestSystemNeverGetsABalanceRow(t *testing.T) {
	l := newTestLedger(t)

	balance, err := l.Balance(SystemAccount, true)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	accounts, err := l.AllBalances()
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestAllBalancesOrderedByBalance(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.Pay(SystemAccount, "U1RICH", 100, "test"))
	require.NoError(t, l.Pay(SystemAccount, "U2POOR", 5, "test"))
	require.NoError(t, l.Pay(SystemAccount, "U3MID", 50, "test"))

	accounts, err := l.AllBalances()
	require.NoError(t, err)
	require.Len(t, accounts, 3)
	assert.Equal(t, "U2POOR", accounts[0].UserID)
	assert.Equal(t, "U3MID", accounts[1].UserID)
	assert.Equal(t, "U1RICH", accounts[2].UserID)
}

func TestAnnotatedPayoutsNoLongerMatch(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.Pay(SystemAccount, EscrowAccount, 100, "test"))
	require.NoError(t, l.Pay(EscrowAccount, "U12345", 21, MoinPayoutMemo))
	require.NoError(t, l.Pay(EscrowAccount, "U12345", 21, MoinPayoutMemo))

	payouts, err := l.MoinPayouts("U12345")
	require.NoError(t, err)
	require.Len(t, payouts, 2)

	require.NoError(t, l.AnnotateTransaction(payouts[1].ID, duplicateAnnotation))

	payouts, err = l.MoinPayouts("U12345")
	require.NoError(t, err)
	assert.Len(t, payouts, 1)
}

func TestCyclesCovering(t *testing.T) {
	l := newTestLedger(t)

	first, err := l.RecordCycle(1000, 2000, 500)
	require.NoError(t, err)
	second, err := l.RecordCycle(2000, 3000, 400)
	require.NoError(t, err)

	cycles, err := l.CyclesCovering(1500, 2500)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.Equal(t, first.ID, cycles[0].ID)
	assert.Equal(t, second.ID, cycles[1].ID)

	// Both timestamps in the same cycle dedupe to one
	cycles, err = l.CyclesCovering(1100, 1900)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, first.ID, cycles[0].ID)

	// A timestamp before any cycle resolves to nothing
	cycles, err = l.CyclesCovering(500)
	require.NoError(t, err)
	assert.Empty(t, cycles)
}

func TestReplaceSwapsLedgerState(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.Pay(SystemAccount, "U12345", 100, "test"))

	err := l.Replace(
		[]Account{{UserID: "U67890", Balance: 42}},
		[]Transaction{{ID: 1, PayerID: SystemAccount, PayeeID: "U67890", Amount: 42, Memo: "test", TxTimestamp: 1000}},
	)
	require.NoError(t, err)

	accounts, err := l.AllBalances()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "U67890", accounts[0].UserID)
	assert.Equal(t, int64(42), accounts[0].Balance)

	txs, err := l.Transactions()
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "U67890", txs[0].PayeeID)
}

func TestSecretWordLifecycle(t *testing.T) {
	l := newTestLedger(t)

	cycle, err := l.RecordCycle(1000, 2000, 500)
	require.NoError(t, err)

	require.NoError(t, l.PutSecretWord(cycle.ID, 1000, "pretzel", "U12345"))

	sw, err := l.CurrentSecretWord()
	require.NoError(t, err)
	require.NotNil(t, sw)
	assert.Equal(t, "pretzel", sw.Word)

	require.NoError(t, l.CompleteSecretWord(cycle.ID))

	sw, err = l.CurrentSecretWord()
	require.NoError(t, err)
	assert.Nil(t, sw)

	words, err := l.RecentSecretWords(5)
	require.NoError(t, err)
	assert.Equal(t, []string{"pretzel"}, words)
}

func TestOpenCreatesStorageDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "storage")

	l, err := Open(dir, "coins", 0)
	require.NoError(t, err)
	require.NotNil(t, l)

	_, err = os.Stat(filepath.Join(dir, "coins.sqlite"))
	assert.NoError(t, err)
}

func TestMigrationsBackfillPaidAndCompleted(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.AutoMigrate(&Account{}, &Transaction{}, &PoolCycle{}, &SecretWord{}, &EscrowEntry{}))

	// Two cycles with escrow entries and secret words predating the paid and
	// completed flags
	require.NoError(t, db.Create(&PoolCycle{ID: 1, FillupTimestamp: 1000, NextFillupTimestamp: 2000, Amount: 500}).Error)
	require.NoError(t, db.Create(&PoolCycle{ID: 2, FillupTimestamp: 2000, NextFillupTimestamp: 3000, Amount: 400}).Error)
	require.NoError(t, db.Create(&EscrowEntry{EscrowGroupID: 1, PayeeID: "U12345", Amount: 14}).Error)
	require.NoError(t, db.Create(&EscrowEntry{EscrowGroupID: 2, PayeeID: "U12345", Amount: 21}).Error)
	require.NoError(t, db.Create(&SecretWord{ID: 1, Word: "pretzel"}).Error)
	require.NoError(t, db.Create(&SecretWord{ID: 2, Word: "firefly"}).Error)

	l, err := NewLedger(db, 20)
	require.NoError(t, err)

	entries, err := l.EscrowEntriesForGroups(1, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Paid)
	assert.False(t, entries[1].Paid)

	sw, err := l.SecretWordForCycle(1)
	require.NoError(t, err)
	assert.True(t, sw.Completed)

	sw, err = l.SecretWordForCycle(2)
	require.NoError(t, err)
	assert.False(t, sw.Completed)
}
