package coins

import (
	"encoding/json"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fraqlab/coinscot"
	"github.com/fraqlab/coinscot/store"
	"github.com/pkg/errors"
)

// MiningConfig holds the tunables of the mining reward mechanism
type MiningConfig struct {
	// Keyword whose first utterance per cycle earns a user a shot at a reward
	Keyword string

	// CoinFlipChance is the probability of a reward when the coin flip gate applies
	CoinFlipChance float64

	// KeywordCoinFlip and SecretWordCoinFlip toggle the coin flip gate per
	// trigger type
	KeywordCoinFlip    bool
	SecretWordCoinFlip bool

	// Excludes are user ids that never mine
	Excludes []string

	// Divisors overrides the reward divisor ladder; each divisor is gated at
	// a pool balance of twice its value
	Divisors []int
}

// DefaultMiningConfig returns the stock mining tunables: keyword rewards are
// coin-flip gated, secret word rewards always pay
func DefaultMiningConfig() MiningConfig {
	return MiningConfig{Keyword: "moin", CoinFlipChance: 0.4, KeywordCoinFlip: true, SecretWordCoinFlip: false}
}

// rewardDivisor pairs a divisor with the pool balance threshold gating it
// (the threshold is twice the divisor, the smallest payable reward)
type rewardDivisor struct {
	divisor   int64
	threshold int64
}

// defaultRewardDivisors is the stock divisor ladder
var defaultRewardDivisors = []rewardDivisor{
	{7, 14},
	{11, 22},
	{13, 26},
	{17, 34},
}

// Participation set keys in the state storer
const (
	moinedKey  = "moined"
	swMinedKey = "sw_mined"
)

// Escrow memo prefixes identifying the reward type
const (
	moinMiningMemoPrefix       = "Moin Mining for "
	secretWordMiningMemoPrefix = "Secret Word Mining for "
)

// MiningEngine implements the per-user, per-cycle-limited reward mechanism.
// Each trigger type is one-shot per user per cycle: a user is marked as having
// mined even when the coin flip misses, so the trigger can't retry within the
// cycle. Rewards accrue in escrow (funds move pool→escrow immediately) and pay
// out when the cycle's disbursement runs
type MiningEngine struct {
	ledger *Ledger
	payer  Payer
	state  store.StringStorer
	cfg    MiningConfig
	logger coinscot.SLogger

	excludes map[string]bool
	divisors []rewardDivisor
	rand     *rand.Rand
	mu       sync.Mutex
}

// NewMiningEngine creates a mining engine persisting its per-cycle
// participation sets in the given storer
func NewMiningEngine(ledger *Ledger, payer Payer, state store.StringStorer, cfg MiningConfig, logger coinscot.SLogger) (e *MiningEngine) {
	e = &MiningEngine{
		ledger: ledger,
		payer:  payer,
		state:  state,
		cfg:    cfg,
		logger: logger,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	e.excludes = make(map[string]bool)
	for _, u := range cfg.Excludes {
		e.excludes[u] = true
	}

	e.divisors = defaultRewardDivisors
	if len(cfg.Divisors) > 0 {
		e.divisors = make([]rewardDivisor, 0, len(cfg.Divisors))
		for _, d := range cfg.Divisors {
			e.divisors = append(e.divisors, rewardDivisor{divisor: int64(d), threshold: int64(2 * d)})
		}
	}

	return e
}

// MatchesKeyword returns true if the text contains the mining keyword
// (case-insensitive substring)
func (e *MiningEngine) MatchesKeyword(text string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(e.cfg.Keyword))
}

// MatchesSecretWord returns true if the text contains the current cycle's
// secret word (case-insensitive substring)
func (e *MiningEngine) MatchesSecretWord(text string) bool {
	sw, err := e.ledger.CurrentSecretWord()
	if err != nil || sw == nil || sw.Word == "" {
		return false
	}

	return strings.Contains(strings.ToLower(text), strings.ToLower(sw.Word))
}

// MineKeyword processes a keyword trigger for the user and returns the amount
// escrowed (zero on a one-shot repeat, an excluded user, a coin flip miss or
// an empty pool)
func (e *MiningEngine) MineKeyword(user string) (reward int64, err error) {
	return e.mine(user, moinedKey, e.cfg.KeywordCoinFlip, moinMiningMemoPrefix)
}

// MineSecretWord processes a secret word trigger for the user
func (e *MiningEngine) MineSecretWord(user string) (reward int64, err error) {
	return e.mine(user, swMinedKey, e.cfg.SecretWordCoinFlip, secretWordMiningMemoPrefix)
}

func (e *MiningEngine) mine(user string, setKey string, coinFlip bool, memoPrefix string) (reward int64, err error) {
	if e.excludes[user] {
		return 0, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	mined, err := e.loadSet(setKey)
	if err != nil {
		return 0, err
	}

	if mined[user] {
		return 0, nil
	}

	// Mark the user first: a coin flip miss still burns the one shot
	mined[user] = true
	if err = e.saveSet(setKey, mined); err != nil {
		return 0, err
	}

	if coinFlip && e.rand.Float64() >= e.cfg.CoinFlipChance {
		e.logger.Debugf("[coins] %s missed the coin flip this cycle\n", user)
		return 0, nil
	}

	return e.escrowReward(user, memoPrefix+user)
}

// escrowReward computes a reward from the pool balance and moves it
// pool→escrow, tagged with the current cycle id
func (e *MiningEngine) escrowReward(user string, memo string) (reward int64, err error) {
	poolBalance, err := e.ledger.Balance(PoolAccount, false)
	if err != nil {
		return 0, err
	}

	reward = e.rewardAmount(poolBalance)
	if reward == 0 {
		return 0, nil
	}

	cycle, err := e.ledger.CurrentCycle()
	if err != nil {
		return 0, err
	}
	if cycle == nil {
		return 0, nil
	}

	err = e.payer.Pay(PoolAccount, EscrowAccount, reward, memo)
	if IsInsufficientFunds(err) {
		e.logger.Debugf("[coins] pool can't cover a reward of %d, skipping\n", reward)
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	if _, err = e.ledger.AddEscrowEntry(cycle.ID, user, reward, memo); err != nil {
		return 0, err
	}

	e.logger.Printf("[coins] escrowed %d for %s (cycle %d): %s\n", reward, user, cycle.ID, memo)

	return reward, nil
}

// rewardAmount draws a reward from the pool balance: pick a random divisor
// from the ladder among those whose threshold the pool meets, compute
// divvy = pool / divisor, then draw a multiplier in [2, cap] where cap is
// divvy/2+1 once divvy reaches 3 (and the minimum multiplier 2 below that)
func (e *MiningEngine) rewardAmount(poolBalance int64) (amount int64) {
	eligible := make([]int64, 0, len(e.divisors))
	for _, d := range e.divisors {
		if poolBalance >= d.threshold {
			eligible = append(eligible, d.divisor)
		}
	}

	if len(eligible) == 0 {
		return 0
	}

	divisor := eligible[e.rand.Intn(len(eligible))]
	divvy := poolBalance / divisor

	cap := int64(2)
	if divvy >= 3 {
		cap = divvy/2 + 1
	}

	n := 2 + e.rand.Int63n(cap-2+1)

	return n * divisor
}

// Reset clears both participation sets at a cycle boundary
func (e *MiningEngine) Reset() (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err = e.saveSet(moinedKey, map[string]bool{}); err != nil {
		return err
	}

	return e.saveSet(swMinedKey, map[string]bool{})
}

// Participants returns the users in a participation set, sorted. Used by tests
// and reports
func (e *MiningEngine) Participants(setKey string) (users []string, err error) {
	set, err := e.loadSet(setKey)
	if err != nil {
		return nil, err
	}

	users = make([]string, 0, len(set))
	for u := range set {
		users = append(users, u)
	}
	sort.Strings(users)

	return users, nil
}

// loadSet reads a participation set stored as a JSON array of user ids. A
// missing key is an empty set
func (e *MiningEngine) loadSet(key string) (set map[string]bool, err error) {
	set = make(map[string]bool)

	raw, err := e.state.GetString(key)
	if err != nil || raw == "" {
		return set, nil
	}

	var users []string
	if err = json.Unmarshal([]byte(raw), &users); err != nil {
		return nil, errors.Wrapf(err, "corrupted participation set [%s]", key)
	}

	for _, u := range users {
		set[u] = true
	}

	return set, nil
}

func (e *MiningEngine) saveSet(key string, set map[string]bool) (err error) {
	users := make([]string, 0, len(set))
	for u := range set {
		users = append(users, u)
	}
	sort.Strings(users)

	raw, err := json.Marshal(users)
	if err != nil {
		return errors.Wrapf(err, "failed to encode participation set [%s]", key)
	}

	if err = e.state.PutString(key, string(raw)); err != nil {
		return errors.Wrapf(err, "failed to persist participation set [%s]", key)
	}

	return nil
}

// describeReward maps an escrow memo to the human reward type used in reports
func describeReward(memo string) string {
	if strings.HasPrefix(memo, secretWordMiningMemoPrefix) {
		return "Secret Word Mining"
	}

	return "Moin Mining"
}

// payoutMemo maps an escrow memo to the transaction memo of its disbursement
func payoutMemo(memo string) string {
	if strings.HasPrefix(memo, secretWordMiningMemoPrefix) {
		return SecretWordPayoutMemo
	}

	return MoinPayoutMemo
}

// rewardBounds returns the valid reward range for a pool balance and divisor,
// used in tests and sanity checks
func rewardBounds(poolBalance int64, divisor int64) (min int64, max int64) {
	divvy := poolBalance / divisor

	cap := int64(2)
	if divvy >= 3 {
		cap = divvy/2 + 1
	}

	return 2 * divisor, cap * divisor
}
