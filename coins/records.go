package coins

// Reserved synthetic account ids. SYSTEM is the unbounded minting source and
// is never stored as a balance row
const (
	PoolAccount   = "pool"
	EscrowAccount = "escrow"
	SystemAccount = "SYSTEM"
)

// Transaction memos used to classify transaction types
const (
	StartingBalanceMemo  = "Starting Balance"
	PoolDepositMemo      = "Pool Deposit"
	MoinPayoutMemo       = "Happy Moin!"
	SecretWordPayoutMemo = "Secret Word!"
	CorrectionMemo       = "Reconciliation Correction"
	duplicateAnnotation  = "DUPLICATE. CORRECTED."
)

// Account is a balance row: one per user or synthetic account, created lazily
// on first reference and never deleted
type Account struct {
	UserID  string `gorm:"column:user;primaryKey"`
	Balance int64  `gorm:"column:balance;not null"`
}

// TableName maps Account to the balances table
func (Account) TableName() string {
	return "balances"
}

// Transaction is an immutable record of a single transfer. The multiset of
// transactions replayed in timestamp order from all-zero balances (SYSTEM
// unbounded) reproduces the balance table; that's the reconciliation invariant
type Transaction struct {
	ID          int64  `gorm:"column:id;primaryKey;autoIncrement"`
	PayerID     string `gorm:"column:payer_id;index"`
	PayeeID     string `gorm:"column:payee_id;index"`
	Amount      int64  `gorm:"column:amount;not null"`
	Memo        string `gorm:"column:memo"`
	TxTimestamp int64  `gorm:"column:tx_timestamp;index"`
}

// TableName maps Transaction to the transactions table
func (Transaction) TableName() string {
	return "transactions"
}

// PoolCycle is one record per pool refill. The most recent cycle by id is the
// current one and its id doubles as the escrow group id for payouts accrued
// during the cycle
type PoolCycle struct {
	ID                  int64 `gorm:"column:id;primaryKey;autoIncrement"`
	FillupTimestamp     int64 `gorm:"column:fillup_timestamp"`
	NextFillupTimestamp int64 `gorm:"column:next_fillup_timestamp"`
	Amount              int64 `gorm:"column:amount"`
}

// TableName maps PoolCycle to the pool_history table
func (PoolCycle) TableName() string {
	return "pool_history"
}

// SecretWord is the rotating shared secret for one pool cycle. Exactly one
// incomplete secret word exists at a time
type SecretWord struct {
	ID         int64  `gorm:"column:id;primaryKey"` // pool cycle id
	Timestamp  int64  `gorm:"column:ts"`
	Word       string `gorm:"column:secret_word"`
	SourceUser string `gorm:"column:source_user"`
	Completed  bool   `gorm:"column:completed"`
}

// TableName maps SecretWord to the secret_words table
func (SecretWord) TableName() string {
	return "secret_words"
}

// EscrowEntry is one pending or paid mining reward. Funds move pool→escrow
// when the entry is created and escrow→payee when the cycle is disbursed
type EscrowEntry struct {
	ID            int64  `gorm:"column:id;primaryKey;autoIncrement"`
	EscrowGroupID int64  `gorm:"column:escrow_group_id;index"`
	PayeeID       string `gorm:"column:payee_id"`
	Amount        int64  `gorm:"column:amount"`
	Memo          string `gorm:"column:memo"`
	Paid          bool   `gorm:"column:paid"`
	TxTimestamp   int64  `gorm:"column:tx_timestamp"`
}

// TableName maps EscrowEntry to the escrow_entries table
func (EscrowEntry) TableName() string {
	return "escrow_entries"
}
