package coins

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/fraqlab/coinscot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway is a canned-history chat gateway for tests
type fakeGateway struct {
	history  map[string][]coinscot.HistoryMessage
	channels map[string]string
	posted   map[string][]string
}

func newFakeGateway() (g *fakeGateway) {
	return &fakeGateway{
		history:  make(map[string][]coinscot.HistoryMessage),
		channels: make(map[string]string),
		posted:   make(map[string][]string),
	}
}

func (g *fakeGateway) GetDisplayName(userID string) (displayName string) {
	return "name-" + userID
}

func (g *fakeGateway) GetChannelID(name string) (channelID string, err error) {
	if id, ok := g.channels[name]; ok {
		return id, nil
	}

	return "", fmt.Errorf("no channel named [%s] found", name)
}

func (g *fakeGateway) FetchChannelHistory(channelID string, oldest int64, latest int64, totalLimit int) (msgs []coinscot.HistoryMessage, err error) {
	for _, m := range g.history[channelID] {
		if m.Timestamp >= oldest && (latest == 0 || m.Timestamp <= latest) {
			msgs = append(msgs, m)
		}
	}

	if len(msgs) > totalLimit {
		msgs = msgs[:totalLimit]
	}

	return msgs, nil
}

func (g *fakeGateway) PostMessage(channelID string, text string) (err error) {
	g.posted[channelID] = append(g.posted[channelID], text)
	return nil
}

func newTestWordGenerator(t *testing.T, l *Ledger, gateway *fakeGateway, cfg SecretWordConfig) (g *SecretWordGenerator) {
	g = NewSecretWordGenerator(l, gateway, cfg, newTestLogger())
	g.rand = rand.New(rand.NewSource(42))
	g.now = func() int64 { return 100000 }

	return g
}

func seedLowBalanceUsers(t *testing.T, l *Ledger, users ...string) {
	for _, u := range users {
		_, err := l.Balance(u, true)
		require.NoError(t, err)
	}
}

func TestGeneratePicksAWordFromLowBalanceUsers(t *testing.T) {
	l := newTestLedger(t)
	gateway := newFakeGateway()
	seedLowBalanceUsers(t, l, "U1AAAA", "U2BBBB", "U3CCCC")

	gateway.history["C1"] = []coinscot.HistoryMessage{
		{User: "U1AAAA", Text: "that pretzel place was amazing", Timestamp: 99000},
		{User: "U2BBBB", Text: "watching fireflies tonight", Timestamp: 99100},
		{User: "U3CCCC", Text: "my keyboard needs cleaning", Timestamp: 99200},
	}

	cfg := DefaultSecretWordConfig()
	cfg.Channels = []string{"C1"}
	g := newTestWordGenerator(t, l, gateway, cfg)

	word, sourceUser, err := g.Generate(95000)
	require.NoError(t, err)

	assert.Greater(t, len(word), 4)
	assert.Contains(t, []string{"U1AAAA", "U2BBBB", "U3CCCC"}, sourceUser)
}

func TestGenerateWidensTheLookbackWhenQuiet(t *testing.T) {
	l := newTestLedger(t)
	gateway := newFakeGateway()
	seedLowBalanceUsers(t, l, "U1AAAA", "U2BBBB", "U3CCCC")

	// All the activity is well before the first attempt's window (one hour)
	// but within a widened one
	gateway.history["C1"] = []coinscot.HistoryMessage{
		{User: "U1AAAA", Text: "remember that pretzel place", Timestamp: 91000},
		{User: "U2BBBB", Text: "fireflies were out again", Timestamp: 91100},
		{User: "U3CCCC", Text: "cleaned my keyboard finally", Timestamp: 91200},
	}

	cfg := DefaultSecretWordConfig()
	cfg.Channels = []string{"C1"}
	g := newTestWordGenerator(t, l, gateway, cfg)

	word, _, err := g.Generate(99500)
	require.NoError(t, err)
	assert.NotEmpty(t, word)
}

func TestGenerateFallsBackToTheMostRecentWord(t *testing.T) {
	l := newTestLedger(t)
	gateway := newFakeGateway()

	_, err := l.RecordCycle(1000, 2000, 500)
	require.NoError(t, err)
	require.NoError(t, l.PutSecretWord(1, 1000, "pretzel", "U1AAAA"))

	cfg := DefaultSecretWordConfig()
	cfg.Channels = []string{"C1"} // no history at all
	g := newTestWordGenerator(t, l, gateway, cfg)

	word, sourceUser, err := g.Generate(95000)
	require.NoError(t, err)
	assert.Equal(t, "pretzel", word)
	assert.Empty(t, sourceUser)
}

func TestGenerateFailsWithNoCandidatesAndNoHistory(t *testing.T) {
	l := newTestLedger(t)
	gateway := newFakeGateway()

	cfg := DefaultSecretWordConfig()
	cfg.Channels = []string{"C1"}
	g := newTestWordGenerator(t, l, gateway, cfg)

	_, _, err := g.Generate(95000)
	assert.Error(t, err)
}

func TestSourceUsersSkipSyntheticAccountsAndExcludes(t *testing.T) {
	l := newTestLedger(t)
	gateway := newFakeGateway()
	seedLowBalanceUsers(t, l, "U1AAAA", "U2BBBB")

	// Synthetic accounts hold balances too but are never word sources
	require.NoError(t, l.Pay(SystemAccount, PoolAccount, 500, PoolDepositMemo))
	require.NoError(t, l.Pay(SystemAccount, EscrowAccount, 100, "test"))

	cfg := DefaultSecretWordConfig()
	cfg.PoolExcludes = []string{"U2BBBB"}
	g := newTestWordGenerator(t, l, gateway, cfg)

	sources, err := g.sourceUsers()
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"U1AAAA": true}, sources)
}

func TestSourceUsersCappedToTheLeastActive(t *testing.T) {
	l := newTestLedger(t)
	gateway := newFakeGateway()

	require.NoError(t, l.Pay(SystemAccount, "U1POOR", 5, "test"))
	require.NoError(t, l.Pay(SystemAccount, "U2MID", 50, "test"))
	require.NoError(t, l.Pay(SystemAccount, "U3RICH", 500, "test"))

	cfg := DefaultSecretWordConfig()
	cfg.MaxSourceUsers = 2
	g := newTestWordGenerator(t, l, gateway, cfg)

	sources, err := g.sourceUsers()
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"U1POOR": true, "U2MID": true}, sources)
}

func TestCandidateWords(t *testing.T) {
	l := newTestLedger(t)
	g := newTestWordGenerator(t, l, newFakeGateway(), DefaultSecretWordConfig())

	tests := map[string]struct {
		text     string
		expected []string
	}{
		"short words dropped":       {"the cat sat on a mat", []string{}},
		"long words kept":           {"wonderful breakfast today", []string{"wonderful", "breakfast"}},
		"stopwords dropped":         {"something about things", []string{}},
		"emoji shortcodes kept":     {"nice :party_parrot:", []string{"party_parrot"}},
		"short emoji dropped":       {"ok :wave:", []string{}},
		"mentions stripped":         {"<@U12345> <#C67890> morning", []string{"morning"}},
		"case normalized":           {"BREAKFAST was great", []string{"breakfast"}},
		"apostrophes and hyphens":   {"that's a well-known trick", []string{"well-known", "trick"}},
		"custom stopwords filtered": {"", []string{}},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, g.candidateWords(tc.text))
		})
	}
}

func TestCandidateWordsHonorConfiguredStopwords(t *testing.T) {
	l := newTestLedger(t)

	cfg := DefaultSecretWordConfig()
	cfg.Stopwords = []string{"breakfast"}
	g := newTestWordGenerator(t, l, newFakeGateway(), cfg)

	assert.Equal(t, []string{"wonderful"}, g.candidateWords("wonderful breakfast"))
}
