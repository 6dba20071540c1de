package coins

import (
	"math/rand"
	"testing"

	"github.com/fraqlab/coinscot/store/inmemorydb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMiningEngine(t *testing.T, l *Ledger, cfg MiningConfig) (e *MiningEngine) {
	e = NewMiningEngine(l, l, inmemorydb.New(), cfg, newTestLogger())
	e.rand = rand.New(rand.NewSource(42))

	return e
}

// fillPool mints the given amount into the pool and records a cycle so mining
// has an escrow group to accrue into
func fillPool(t *testing.T, l *Ledger, amount int64) (cycle PoolCycle) {
	require.NoError(t, l.Pay(SystemAccount, PoolAccount, amount, PoolDepositMemo))
	cycle, err := l.RecordCycle(1000, 100000, amount)
	require.NoError(t, err)

	return cycle
}

func TestMatchesKeyword(t *testing.T) {
	l := newTestLedger(t)
	e := newTestMiningEngine(t, l, DefaultMiningConfig())

	assert.True(t, e.MatchesKeyword("moin"))
	assert.True(t, e.MatchesKeyword("MOIN everyone!"))
	assert.True(t, e.MatchesKeyword("good moin to you"))
	assert.False(t, e.MatchesKeyword("good morning"))
}

func TestMatchesSecretWord(t *testing.T) {
	l := newTestLedger(t)
	e := newTestMiningEngine(t, l, DefaultMiningConfig())

	// No secret word yet
	assert.False(t, e.MatchesSecretWord("pretzel"))

	cycle := fillPool(t, l, 500)
	require.NoError(t, l.PutSecretWord(cycle.ID, 1000, "pretzel", "USOURCE"))

	assert.True(t, e.MatchesSecretWord("I could go for a PRETZEL right now"))
	assert.False(t, e.MatchesSecretWord("I could go for a bagel right now"))
}

func TestMineKeywordIsOneShotPerCycle(t *testing.T) {
	l := newTestLedger(t)
	cfg := DefaultMiningConfig()
	cfg.KeywordCoinFlip = false
	e := newTestMiningEngine(t, l, cfg)

	fillPool(t, l, 500)

	first, err := e.MineKeyword("U12345")
	require.NoError(t, err)
	assert.Greater(t, first, int64(0))

	second, err := e.MineKeyword("U12345")
	require.NoError(t, err)
	assert.Equal(t, int64(0), second)

	entries, err := l.EscrowEntriesForGroups(1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMissedCoinFlipStillBurnsTheShot(t *testing.T) {
	l := newTestLedger(t)
	cfg := DefaultMiningConfig()
	cfg.CoinFlipChance = 0 // always miss
	e := newTestMiningEngine(t, l, cfg)

	fillPool(t, l, 500)

	reward, err := e.MineKeyword("U12345")
	require.NoError(t, err)
	assert.Equal(t, int64(0), reward)

	participants, err := e.Participants(moinedKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"U12345"}, participants)

	// Even with the flip now guaranteed to succeed, the shot is burned
	e.cfg.CoinFlipChance = 1
	reward, err = e.MineKeyword("U12345")
	require.NoError(t, err)
	assert.Equal(t, int64(0), reward)
}

func TestKeywordAndSecretWordTrackedSeparately(t *testing.T) {
	l := newTestLedger(t)
	cfg := DefaultMiningConfig()
	cfg.KeywordCoinFlip = false
	e := newTestMiningEngine(t, l, cfg)

	fillPool(t, l, 500)

	keywordReward, err := e.MineKeyword("U12345")
	require.NoError(t, err)
	assert.Greater(t, keywordReward, int64(0))

	// The same user can still mine the secret word this cycle
	secretReward, err := e.MineSecretWord("U12345")
	require.NoError(t, err)
	assert.Greater(t, secretReward, int64(0))

	entries, err := l.EscrowEntriesForGroups(1)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestMineWithEmptyPoolPaysNothing(t *testing.T) {
	l := newTestLedger(t)
	cfg := DefaultMiningConfig()
	cfg.KeywordCoinFlip = false
	e := newTestMiningEngine(t, l, cfg)

	// Cycle exists but the pool is below every divisor threshold
	require.NoError(t, l.Pay(SystemAccount, PoolAccount, 10, PoolDepositMemo))
	_, err := l.RecordCycle(1000, 100000, 10)
	require.NoError(t, err)

	reward, err := e.MineKeyword("U12345")
	require.NoError(t, err)
	assert.Equal(t, int64(0), reward)
}

func TestExcludedUsersNeverMine(t *testing.T) {
	l := newTestLedger(t)
	cfg := DefaultMiningConfig()
	cfg.KeywordCoinFlip = false
	cfg.Excludes = []string{"UBOT"}
	e := newTestMiningEngine(t, l, cfg)

	fillPool(t, l, 500)

	reward, err := e.MineKeyword("UBOT")
	require.NoError(t, err)
	assert.Equal(t, int64(0), reward)

	participants, err := e.Participants(moinedKey)
	require.NoError(t, err)
	assert.Empty(t, participants)
}

func TestResetClearsParticipationSets(t *testing.T) {
	l := newTestLedger(t)
	cfg := DefaultMiningConfig()
	cfg.KeywordCoinFlip = false
	cfg.SecretWordCoinFlip = false
	e := newTestMiningEngine(t, l, cfg)

	fillPool(t, l, 500)

	_, err := e.MineKeyword("U12345")
	require.NoError(t, err)
	_, err = e.MineSecretWord("U67890")
	require.NoError(t, err)

	require.NoError(t, e.Reset())

	moined, err := e.Participants(moinedKey)
	require.NoError(t, err)
	assert.Empty(t, moined)

	swMined, err := e.Participants(swMinedKey)
	require.NoError(t, err)
	assert.Empty(t, swMined)
}

func TestRewardAmountsFollowTheDivisorLadder(t *testing.T) {
	l := newTestLedger(t)
	e := newTestMiningEngine(t, l, DefaultMiningConfig())

	// With a pool of 40 every divisor is eligible
	for i := 0; i < 200; i++ {
		amount := e.rewardAmount(40)
		require.Greater(t, amount, int64(0))

		valid := false
		for _, d := range defaultRewardDivisors {
			if amount%d.divisor != 0 {
				continue
			}

			min, max := rewardBounds(40, d.divisor)
			if amount >= min && amount <= max {
				valid = true
				break
			}
		}

		assert.Truef(t, valid, "reward %d doesn't fit any divisor's range", amount)
	}
}

func TestConfiguredDivisorLadder(t *testing.T) {
	l := newTestLedger(t)
	cfg := DefaultMiningConfig()
	cfg.Divisors = []int{5}
	e := newTestMiningEngine(t, l, cfg)

	for i := 0; i < 100; i++ {
		amount := e.rewardAmount(40)
		require.Greater(t, amount, int64(0))
		assert.Zero(t, amount%5)

		min, max := rewardBounds(40, 5)
		assert.GreaterOrEqual(t, amount, min)
		assert.LessOrEqual(t, amount, max)
	}

	// The configured divisor is gated at twice its value like the stock ladder
	assert.Equal(t, int64(0), e.rewardAmount(9))
}

func TestRewardAmountRespectsThresholds(t *testing.T) {
	l := newTestLedger(t)
	e := newTestMiningEngine(t, l, DefaultMiningConfig())

	// Pool of 20 only qualifies the divisor 7 (threshold 14): divvy is 2 so
	// the multiplier stays at the floor of 2
	for i := 0; i < 50; i++ {
		assert.Equal(t, int64(14), e.rewardAmount(20))
	}

	// Below every threshold no reward can be drawn
	assert.Equal(t, int64(0), e.rewardAmount(13))
}

func TestEscrowedRewardNeverOverdrawsThePool(t *testing.T) {
	l := newTestLedger(t)
	cfg := DefaultMiningConfig()
	cfg.KeywordCoinFlip = false
	e := newTestMiningEngine(t, l, cfg)

	fillPool(t, l, 40)

	users := []string{"U1AAAA", "U2BBBB", "U3CCCC", "U4DDDD", "U5EEEE"}
	for _, u := range users {
		_, err := e.MineKeyword(u)
		require.NoError(t, err)
	}

	pool, err := l.Balance(PoolAccount, false)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pool, int64(0))

	// Escrowed funds match the escrow account balance exactly
	entries, err := l.EscrowEntriesForGroups(1)
	require.NoError(t, err)

	var escrowed int64
	for _, entry := range entries {
		escrowed += entry.Amount
	}

	escrowBalance, err := l.Balance(EscrowAccount, false)
	require.NoError(t, err)
	assert.Equal(t, escrowed, escrowBalance)
}
