package coins

import (
	"math/rand"
	"sync"
	"time"

	"github.com/fraqlab/coinscot"
)

// PoolConfig holds the tunables of the pool refill state machine
type PoolConfig struct {
	// MinDeposit and MaxDeposit bound the amount minted into the pool on a refill
	MinDeposit int64
	MaxDeposit int64

	// MinRefillHours and MaxRefillHours bound the randomized delay until the
	// next refill
	MinRefillHours int
	MaxRefillHours int
}

// DefaultPoolConfig returns the stock pool tunables
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{MinDeposit: 250, MaxDeposit: 750, MinRefillHours: 4, MaxRefillHours: 15}
}

// CycleEndHandler is invoked when a refill closes the previous cycle, before
// the new cycle is recorded. The mining engine hooks its reset and the escrow
// disbursement here
type CycleEndHandler func(closed PoolCycle)

// PoolManager drives the refill state machine: while the current time is
// before the recorded next fillup timestamp it does nothing; once the
// timestamp is crossed it closes the previous cycle, mints a random amount
// from SYSTEM into the pool, records the new cycle and rotates the secret
// word. The check is evaluated opportunistically on inbound messages (plus a
// scheduled safety tick), so crossing the boundary must be idempotent: the
// mutex and the timestamp guard make sure only one cycle row is written per
// crossing
type PoolManager struct {
	ledger     *Ledger
	payer      Payer
	cfg        PoolConfig
	words      *SecretWordGenerator
	onCycleEnd CycleEndHandler
	logger     coinscot.SLogger

	rand *rand.Rand
	now  func() int64
	mu   sync.Mutex
}

// NewPoolManager creates a pool manager. The secret word generator may be nil
// in which case cycles proceed without a word (a degraded mode used in tests)
func NewPoolManager(ledger *Ledger, payer Payer, cfg PoolConfig, words *SecretWordGenerator, logger coinscot.SLogger) (p *PoolManager) {
	return &PoolManager{
		ledger: ledger,
		payer:  payer,
		cfg:    cfg,
		words:  words,
		logger: logger,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    func() int64 { return time.Now().Unix() },
	}
}

// OnCycleEnd registers the handler invoked when a cycle closes
func (p *PoolManager) OnCycleEnd(h CycleEndHandler) {
	p.onCycleEnd = h
}

// CheckRefill evaluates the refill transition and performs it when due. Safe
// to call on every message
func (p *PoolManager) CheckRefill() (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, err := p.ledger.CurrentCycle()
	if err != nil {
		return err
	}

	now := p.now()
	if cur != nil && now < cur.NextFillupTimestamp {
		return nil
	}

	if cur != nil && p.onCycleEnd != nil {
		p.onCycleEnd(*cur)
	}

	amount := p.cfg.MinDeposit + p.rand.Int63n(p.cfg.MaxDeposit-p.cfg.MinDeposit+1)
	if err = p.payer.Pay(SystemAccount, PoolAccount, amount, PoolDepositMemo); err != nil {
		return err
	}

	next := now + p.nextRefillDelay()
	cycle, err := p.ledger.RecordCycle(now, next, amount)
	if err != nil {
		return err
	}

	p.logger.Printf("[coins] pool refilled with %d (cycle %d), next fillup at %d\n", amount, cycle.ID, next)

	p.rotateSecretWord(cycle, cur)

	return nil
}

// nextRefillDelay draws the randomized delay in seconds until the next refill
func (p *PoolManager) nextRefillDelay() (seconds int64) {
	min := int64(p.cfg.MinRefillHours) * 3600
	max := int64(p.cfg.MaxRefillHours) * 3600

	return min + p.rand.Int63n(max-min+1)
}

// rotateSecretWord generates and records the new cycle's secret word. A
// generation failure is logged and the cycle proceeds without a fresh word
// rather than blocking the refill
func (p *PoolManager) rotateSecretWord(cycle PoolCycle, previous *PoolCycle) {
	if p.words == nil {
		return
	}

	sinceBoundary := cycle.FillupTimestamp - 86400
	if previous != nil {
		sinceBoundary = previous.FillupTimestamp
	}

	word, sourceUser, err := p.words.Generate(sinceBoundary)
	if err != nil {
		p.logger.Printf("[coins] secret word generation failed for cycle %d: %v\n", cycle.ID, err)
		return
	}

	if err = p.ledger.PutSecretWord(cycle.ID, p.now(), word, sourceUser); err != nil {
		p.logger.Printf("[coins] failed to store secret word for cycle %d: %v\n", cycle.ID, err)
	}
}

// NextFillupIn returns the time remaining until the next scheduled refill, or
// zero if a refill is due (or no cycle exists yet)
func (p *PoolManager) NextFillupIn() (remaining time.Duration, err error) {
	cur, err := p.ledger.CurrentCycle()
	if err != nil {
		return 0, err
	}

	if cur == nil {
		return 0, nil
	}

	diff := cur.NextFillupTimestamp - p.now()
	if diff < 0 {
		diff = 0
	}

	return time.Duration(diff) * time.Second, nil
}
