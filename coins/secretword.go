package coins

import (
	"math/rand"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/fraqlab/coinscot"
	"github.com/pkg/errors"
)

// SecretWordConfig holds the tunables of secret word generation
type SecretWordConfig struct {
	// Channels are the channel ids mined for candidate words (and watched for
	// secret word mentions)
	Channels []string

	// PoolExcludes are user ids never considered as word sources
	PoolExcludes []string

	// Stopwords are excluded from candidate words, on top of the built-in list
	Stopwords []string

	// MaxSourceUsers caps how many of the least-active users are mined
	MaxSourceUsers int

	// MinSourceUsers is the number of users that must contribute candidates
	// before a word is drawn
	MinSourceUsers int

	// RecentWindow is how many previous secret words a new word can't repeat
	RecentWindow int

	// MaxRetries bounds the widening-lookback retry loop
	MaxRetries int

	// TotalLimit caps the number of history messages fetched per channel
	TotalLimit int
}

// DefaultSecretWordConfig returns the stock secret word tunables
func DefaultSecretWordConfig() SecretWordConfig {
	return SecretWordConfig{
		MaxSourceUsers: 10,
		MinSourceUsers: 3,
		RecentWindow:   5,
		MaxRetries:     10,
		TotalLimit:     10000,
	}
}

// userIDRegexp matches slack-shaped user ids; balances rows for synthetic
// accounts (pool, escrow) don't match and are never word sources
var userIDRegexp = regexp.MustCompile(`^[UW][A-Z0-9]{4,}$`)

var emojiRegexp = regexp.MustCompile(`:([\w_\-+]+):`)
var mentionRegexp = regexp.MustCompile(`<[@#!][^>]+>`)

// defaultStopwords are common words never used as a secret word
var defaultStopwords = []string{
	"about", "after", "again", "around", "because", "before", "being",
	"could", "doesn", "every", "first", "going", "gonna", "great", "never",
	"other", "people", "really", "right", "should", "something", "still",
	"thanks", "that's", "their", "there", "these", "thing", "things",
	"think", "those", "today", "where", "which", "while", "would", "yeah",
	"you're",
}

// SecretWordGenerator mines the recent chat history of the least-active users
// (lowest balances) for a rotating secret word
type SecretWordGenerator struct {
	ledger  *Ledger
	gateway coinscot.ChatGateway
	cfg     SecretWordConfig
	logger  coinscot.SLogger

	stopwords map[string]bool
	excludes  map[string]bool
	rand      *rand.Rand
	now       func() int64
}

// NewSecretWordGenerator creates a generator. The gateway is the narrow chat
// interface used for history fetches
func NewSecretWordGenerator(ledger *Ledger, gateway coinscot.ChatGateway, cfg SecretWordConfig, logger coinscot.SLogger) (g *SecretWordGenerator) {
	g = &SecretWordGenerator{
		ledger:  ledger,
		gateway: gateway,
		cfg:     cfg,
		logger:  logger,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     func() int64 { return time.Now().Unix() },
	}

	g.stopwords = make(map[string]bool)
	for _, w := range defaultStopwords {
		g.stopwords[w] = true
	}
	for _, w := range cfg.Stopwords {
		g.stopwords[strings.ToLower(w)] = true
	}

	g.excludes = make(map[string]bool)
	for _, u := range cfg.PoolExcludes {
		g.excludes[u] = true
	}

	return g
}

// Generate picks the next secret word from the chat activity of the least
// active users since the previous cycle boundary. If fewer than the minimum
// number of users contributed candidate words, or the drawn word repeats a
// recent one, it retries against a wider time window, up to a hard ceiling.
// Past the ceiling the most recent word is reused rather than failing the
// cycle
func (g *SecretWordGenerator) Generate(sinceBoundary int64) (word string, sourceUser string, err error) {
	recent, err := g.ledger.RecentSecretWords(g.cfg.RecentWindow)
	if err != nil {
		return "", "", err
	}

	recentSet := make(map[string]bool, len(recent))
	for _, w := range recent {
		recentSet[w] = true
	}

	now := g.now()
	window := now - sinceBoundary
	if window < 3600 {
		window = 3600
	}

	for attempt := 1; attempt <= g.cfg.MaxRetries; attempt++ {
		oldest := now - int64(attempt)*window

		candidates := g.collectCandidates(oldest)
		if len(candidates) < g.cfg.MinSourceUsers {
			g.logger.Debugf("[coins] secret word attempt %d: only %d contributing users, widening lookback\n", attempt, len(candidates))
			continue
		}

		users := make([]string, 0, len(candidates))
		for u := range candidates {
			users = append(users, u)
		}
		sort.Strings(users)

		user := users[g.rand.Intn(len(users))]
		words := candidates[user]
		picked := words[g.rand.Intn(len(words))]

		if recentSet[picked] {
			g.logger.Debugf("[coins] secret word attempt %d: [%s] repeats a recent word, retrying\n", attempt, picked)
			continue
		}

		return picked, user, nil
	}

	if len(recent) > 0 {
		g.logger.Printf("[coins] secret word retries exhausted, reusing the most recent word\n")
		return recent[0], "", nil
	}

	return "", "", errors.New("no secret word candidates found")
}

// collectCandidates builds the per-user candidate word pools from channel
// history since oldest. A failed history fetch yields no candidates for that
// channel and the caller's wider-lookback retry takes over
func (g *SecretWordGenerator) collectCandidates(oldest int64) (candidates map[string][]string) {
	candidates = make(map[string][]string)

	sources, err := g.sourceUsers()
	if err != nil {
		g.logger.Printf("[coins] failed to pick secret word source users: %v\n", err)
		return candidates
	}

	if len(sources) == 0 {
		return candidates
	}

	for _, channelID := range g.cfg.Channels {
		msgs, err := g.gateway.FetchChannelHistory(channelID, oldest, 0, g.cfg.TotalLimit)
		if err != nil {
			g.logger.Printf("[coins] history fetch failed for channel [%s]: %v\n", channelID, err)
			continue
		}

		for _, m := range msgs {
			if !sources[m.User] {
				continue
			}

			for _, w := range g.candidateWords(m.Text) {
				candidates[m.User] = append(candidates[m.User], w)
			}
		}
	}

	return candidates
}

// sourceUsers returns the set of least-active users: lowest balances, capped,
// excluding configured users and anything that isn't a chat user id
func (g *SecretWordGenerator) sourceUsers() (sources map[string]bool, err error) {
	accounts, err := g.ledger.AllBalances()
	if err != nil {
		return nil, err
	}

	sources = make(map[string]bool)
	for _, a := range accounts {
		if len(sources) >= g.cfg.MaxSourceUsers {
			break
		}

		if g.excludes[a.UserID] || !userIDRegexp.MatchString(a.UserID) {
			continue
		}

		sources[a.UserID] = true
	}

	return sources, nil
}

// candidateWords tokenizes a message into candidate secret words: emoji
// shortcodes count as candidates, user/channel mentions are stripped, and
// plain words qualify when longer than 4 characters and not stopwords
func (g *SecretWordGenerator) candidateWords(text string) (words []string) {
	words = make([]string, 0)

	for _, m := range emojiRegexp.FindAllStringSubmatch(text, -1) {
		shortcode := strings.ToLower(m[1])
		if len(shortcode) > 4 && !g.stopwords[shortcode] {
			words = append(words, shortcode)
		}
	}

	text = emojiRegexp.ReplaceAllString(text, " ")
	text = mentionRegexp.ReplaceAllString(text, " ")

	tokens := strings.FieldsFunc(text, func(c rune) bool {
		return !unicode.IsLetter(c) && c != '-' && c != '\''
	})

	for _, t := range tokens {
		t = strings.ToLower(t)
		if len(t) > 4 && !g.stopwords[t] {
			words = append(words, t)
		}
	}

	return words
}
