package coins

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fraqlab/coinscot"
	"github.com/fraqlab/coinscot/config"
	"github.com/fraqlab/coinscot/schedule"
	"github.com/fraqlab/coinscot/store"
	"go.opentelemetry.io/otel/api/global"
)

const (
	// CoinsPluginName holds identifying name for the coins plugin
	CoinsPluginName = "coins"
)

// Configuration keys of the coins plugin
const (
	currencyNameKey       = "currencyName"
	triggersKey           = "triggers"
	adminsKey             = "admins"
	announceChannelsKey   = "announceChannels"
	wordChannelsKey       = "wordChannels"
	backupPathKey         = "backupPath"
	historyPathKey        = "historyPath"
	miningKeywordKey      = "miningKeyword"
	coinFlipChanceKey     = "coinFlipChance"
	keywordCoinFlipKey    = "keywordCoinFlip"
	secretWordCoinFlipKey = "secretWordCoinFlip"
	miningExcludesKey     = "miningExcludes"
	rewardDivisorsKey     = "rewardDivisors"
	poolMinDepositKey     = "poolMinDeposit"
	poolMaxDepositKey     = "poolMaxDeposit"
	poolMinRefillHoursKey = "poolMinRefillHours"
	poolMaxRefillHoursKey = "poolMaxRefillHours"
	wordPoolExcludesKey   = "wordPoolExcludes"
	wordStopwordsKey      = "wordStopwords"
)

// refillCheckIntervalMins is how often the scheduled safety tick evaluates the
// pool refill when no message traffic does it
const refillCheckIntervalMins = 10

// StartingBalanceKey is the configuration key for the balance new accounts
// start with. It is read by the ledger setup rather than the plugin itself
const StartingBalanceKey = "startingBalance"

var mentionedUserRegexp = regexp.MustCompile(`^<@([UW][A-Z0-9]+)(?:\|[^>]+)?>$`)

// Coins holds the plugin data for the coins plugin: the ledger, the payment
// engine, the pool refill state machine, the mining engine, the escrow
// disburser and the repair procedures, glued to chat via commands and hear
// actions
type Coins struct {
	coinscot.Plugin

	currencyName string
	triggers     []string
	admins       map[string]bool
	announce     []string

	ledger     *Ledger
	payer      Payer
	pool       *PoolManager
	mining     *MiningEngine
	disburser  *Disburser
	reconciler *Reconciler
	history    *HistoryLog
	gateway    coinscot.ChatGateway
	logger     coinscot.SLogger
}

// NewCoins creates a new instance of the coins plugin over an open ledger. The
// gateway is used for secret word history mining and out-of-band disbursement
// announcements; the storer persists the per-cycle mining participation sets
func NewCoins(v *config.PluginConfig, ledger *Ledger, stateStorer store.StringStorer, gateway coinscot.ChatGateway, logger coinscot.SLogger) (c *Coins, err error) {
	applyDefaults(v)

	c = new(Coins)
	c.currencyName = v.GetString(currencyNameKey)
	c.triggers = v.GetStringSlice(triggersKey)
	c.announce = v.GetStringSlice(announceChannelsKey)
	c.gateway = gateway
	c.logger = logger

	c.admins = make(map[string]bool)
	for _, a := range v.GetStringSlice(adminsKey) {
		c.admins[a] = true
	}

	c.ledger = ledger
	c.payer = NewPayerWithTelemetry(ledger, CoinsPluginName, global.Meter(CoinsPluginName))

	wordCfg := DefaultSecretWordConfig()
	wordCfg.Channels = c.resolveChannels(v.GetStringSlice(wordChannelsKey))
	wordCfg.PoolExcludes = v.GetStringSlice(wordPoolExcludesKey)
	wordCfg.Stopwords = v.GetStringSlice(wordStopwordsKey)
	words := NewSecretWordGenerator(ledger, gateway, wordCfg, logger)

	poolCfg := PoolConfig{
		MinDeposit:     v.GetInt64(poolMinDepositKey),
		MaxDeposit:     v.GetInt64(poolMaxDepositKey),
		MinRefillHours: v.GetInt(poolMinRefillHoursKey),
		MaxRefillHours: v.GetInt(poolMaxRefillHoursKey),
	}
	c.pool = NewPoolManager(ledger, c.payer, poolCfg, words, logger)

	miningCfg := MiningConfig{
		Keyword:            v.GetString(miningKeywordKey),
		CoinFlipChance:     v.GetFloat64(coinFlipChanceKey),
		KeywordCoinFlip:    v.GetBool(keywordCoinFlipKey),
		SecretWordCoinFlip: v.GetBool(secretWordCoinFlipKey),
		Excludes:           v.GetStringSlice(miningExcludesKey),
		Divisors:           config.GetIntList(v, rewardDivisorsKey),
	}
	c.mining = NewMiningEngine(ledger, c.payer, stateStorer, miningCfg, logger)

	c.disburser = NewDisburser(ledger, c.payer, logger)
	c.reconciler = NewReconciler(ledger, c.payer, v.GetString(backupPathKey), logger)
	c.pool.OnCycleEnd(c.closeCycle)

	c.history, err = NewHistoryLog(v.GetString(historyPathKey))
	if err != nil {
		return nil, err
	}

	hearActions := []coinscot.ActionDefinition{
		{
			Hidden:      true,
			Match:       func(m *coinscot.IncomingMessage) bool { return true },
			Usage:       "",
			Description: "Check if the pool is due for a refill",
			Answer:      c.checkPool,
		},
		{
			Hidden:      false,
			Match:       c.matchCommand,
			Usage:       fmt.Sprintf("%s <command>", c.triggers[0]),
			Description: fmt.Sprintf("Interact with the %s economy (try `%s help`)", c.currencyName, c.triggers[0]),
			Answer:      c.answerCommand,
		},
		{
			Hidden:      true,
			Match:       c.matchKeyword,
			Usage:       "",
			Description: "Mine by saying the magic word",
			Answer:      c.mineKeyword,
		},
		{
			Hidden:      true,
			Match:       c.matchSecretWord,
			Usage:       "",
			Description: "Mine by saying the secret word",
			Answer:      c.mineSecretWord,
		},
	}

	scheduledActions := []coinscot.ScheduledActionDefinition{
		{
			Hidden:      true,
			Schedule:    schedule.Definition{Interval: refillCheckIntervalMins, Unit: schedule.Minutes},
			Description: "Refill the pool when its timer expires even if the channel is quiet",
			Action:      c.scheduledPoolCheck,
		},
	}

	c.Plugin = coinscot.Plugin{Name: CoinsPluginName, Commands: []coinscot.ActionDefinition{}, HearActions: hearActions, ScheduledActions: scheduledActions}

	return c, nil
}

func applyDefaults(v *config.PluginConfig) {
	v.SetDefault(currencyNameKey, "Coins")
	v.SetDefault(triggersKey, []string{"!coins"})
	v.SetDefault(StartingBalanceKey, defaultStartingValue)
	v.SetDefault(miningKeywordKey, "moin")
	v.SetDefault(coinFlipChanceKey, 0.4)
	v.SetDefault(keywordCoinFlipKey, true)
	v.SetDefault(secretWordCoinFlipKey, false)
	v.SetDefault(poolMinDepositKey, 250)
	v.SetDefault(poolMaxDepositKey, 750)
	v.SetDefault(poolMinRefillHoursKey, 4)
	v.SetDefault(poolMaxRefillHoursKey, 15)
}

// resolveChannels maps configured channel names to channel ids, keeping values
// that already look like ids. Unresolvable names are logged and skipped
func (c *Coins) resolveChannels(names []string) (channelIDs []string) {
	channelIDs = make([]string, 0, len(names))
	for _, name := range names {
		if !strings.HasPrefix(name, "#") {
			channelIDs = append(channelIDs, name)
			continue
		}

		id, err := c.gateway.GetChannelID(name)
		if err != nil {
			c.logger.Printf("[%s] can't resolve channel [%s]: %v\n", CoinsPluginName, name, err)
			continue
		}

		channelIDs = append(channelIDs, id)
	}

	return channelIDs
}

// checkPool runs the refill state machine opportunistically on every message.
// It never answers; refills announce themselves through the cycle end handler
func (c *Coins) checkPool(m *coinscot.IncomingMessage) *coinscot.Answer {
	if err := c.pool.CheckRefill(); err != nil {
		c.logger.Printf("[%s] pool refill check failed: %v\n", CoinsPluginName, err)
	}

	return nil
}

// scheduledPoolCheck is the safety tick that refills the pool on schedule when
// no message traffic triggers the opportunistic check
func (c *Coins) scheduledPoolCheck(gateway coinscot.ChatGateway) {
	if err := c.pool.CheckRefill(); err != nil {
		c.logger.Printf("[%s] scheduled pool refill check failed: %v\n", CoinsPluginName, err)
	}
}

// closeCycle runs when the pool refill closes the previous cycle: pay out the
// cycle's escrow, reset the mining participation sets and announce the payouts
func (c *Coins) closeCycle(closed PoolCycle) {
	payouts, err := c.disburser.Disburse(closed.ID)
	if err != nil {
		c.logger.Printf("[%s] disbursement for cycle %d failed: %v\n", CoinsPluginName, closed.ID, err)
		return
	}

	if err := c.mining.Reset(); err != nil {
		c.logger.Printf("[%s] failed to reset mining sets: %v\n", CoinsPluginName, err)
	}

	if len(payouts) == 0 {
		return
	}

	word := ""
	if sw, err := c.ledger.SecretWordForCycle(closed.ID); err == nil && sw != nil {
		word = sw.Word
	}

	c.announceAll(FormatDisbursementReport(payouts, word, c.currencyName))
}

// announceAll posts the text to every configured announce channel, resolving
// "#name" values to channel ids
func (c *Coins) announceAll(text string) {
	for _, name := range c.announce {
		channelID := name
		if strings.HasPrefix(name, "#") {
			var err error
			if channelID, err = c.gateway.GetChannelID(name); err != nil {
				c.logger.Printf("[%s] can't resolve announce channel [%s]: %v\n", CoinsPluginName, name, err)
				continue
			}
		}

		if err := c.gateway.PostMessage(channelID, text); err != nil {
			c.logger.Printf("[%s] failed to announce on [%s]: %v\n", CoinsPluginName, name, err)
		}
	}
}

// matchKeyword matches messages containing the mining keyword, skipping
// command invocations so "!coins ..." doesn't double as a mining trigger
func (c *Coins) matchKeyword(m *coinscot.IncomingMessage) bool {
	return !c.matchCommand(m) && c.mining.MatchesKeyword(m.NormalizedText)
}

// matchSecretWord matches messages containing the current secret word
func (c *Coins) matchSecretWord(m *coinscot.IncomingMessage) bool {
	return !c.matchCommand(m) && c.mining.MatchesSecretWord(m.NormalizedText)
}

// mineKeyword processes a keyword mining trigger. Mining is silent: rewards
// accrue in escrow and are only revealed when the cycle's payouts run
func (c *Coins) mineKeyword(m *coinscot.IncomingMessage) *coinscot.Answer {
	if _, err := c.mining.MineKeyword(m.User); err != nil {
		c.logger.Printf("[%s] keyword mining failed for [%s]: %v\n", CoinsPluginName, m.User, err)
	}

	return nil
}

// mineSecretWord processes a secret word mining trigger, silently
func (c *Coins) mineSecretWord(m *coinscot.IncomingMessage) *coinscot.Answer {
	if _, err := c.mining.MineSecretWord(m.User); err != nil {
		c.logger.Printf("[%s] secret word mining failed for [%s]: %v\n", CoinsPluginName, m.User, err)
	}

	return nil
}

// matchCommand returns true if the message starts with one of the command triggers
func (c *Coins) matchCommand(m *coinscot.IncomingMessage) bool {
	text := strings.TrimSpace(m.NormalizedText)
	for _, trigger := range c.triggers {
		if text == trigger || strings.HasPrefix(text, trigger+" ") {
			return true
		}
	}

	return false
}

// answerCommand dispatches a command invocation to its handler and records the
// interaction in the history log
func (c *Coins) answerCommand(m *coinscot.IncomingMessage) *coinscot.Answer {
	fields := strings.Fields(strings.TrimSpace(m.NormalizedText))

	sub := "help"
	if len(fields) > 1 {
		sub = strings.ToLower(fields[1])
	}

	var args []string
	if len(fields) > 2 {
		args = fields[2:]
	}

	var answer *coinscot.Answer
	switch sub {
	case "help":
		answer = c.answerHelp()
	case "balance":
		answer = c.answerBalance(m, args)
	case "pool":
		answer = c.answerPool()
	case "tip", "pay":
		answer = c.answerTip(m, args)
	case "balances":
		answer = c.adminOnly(m, func(m *coinscot.IncomingMessage) *coinscot.Answer { return c.answerBalances() })
	case "escrow":
		answer = c.adminOnly(m, c.answerEscrow)
	case "reconcile":
		answer = c.adminOnly(m, c.answerReconcile)
	case "dedupe":
		answer = c.adminOnly(m, func(m *coinscot.IncomingMessage) *coinscot.Answer { return c.answerDedupe(args) })
	case "backup":
		answer = c.adminOnly(m, func(m *coinscot.IncomingMessage) *coinscot.Answer { return c.answerBackup(args) })
	default:
		answer = &coinscot.Answer{Text: fmt.Sprintf("I don't know `%s`. Try `%s help`.", sub, c.triggers[0])}
	}

	if answer != nil {
		if err := c.history.Append(m.NormalizedText, answer.Text); err != nil {
			c.logger.Printf("[%s] failed to record interaction history: %v\n", CoinsPluginName, err)
		}
	}

	return answer
}

func (c *Coins) answerHelp() *coinscot.Answer {
	trigger := c.triggers[0]

	var b strings.Builder
	fmt.Fprintf(&b, "Here's how %s works:\n", c.currencyName)
	fmt.Fprintf(&b, "• `%s balance [@user]` - Show a balance\n", trigger)
	fmt.Fprintf(&b, "• `%s pool` - Show the pool balance and when it refills next\n", trigger)
	fmt.Fprintf(&b, "• `%s tip @user <amount> [memo]` - Give some of your %s to someone\n", trigger, c.currencyName)
	fmt.Fprintf(&b, "• `%s balances` - Show everyone's balance (admins only)\n", trigger)
	fmt.Fprintf(&b, "• `%s escrow` - Show the pending rewards of the current cycle (admins, direct message only)", trigger)

	return &coinscot.Answer{Text: b.String()}
}

func (c *Coins) answerBalance(m *coinscot.IncomingMessage, args []string) *coinscot.Answer {
	user := m.User
	if len(args) > 0 {
		resolved, ok := parseRecipient(args[0])
		if !ok {
			return &coinscot.Answer{Text: fmt.Sprintf("%s is not a valid recipient.", args[0])}
		}
		user = resolved
	}

	balance, err := c.ledger.Balance(user, user == m.User)
	if err != nil {
		return c.processingError(err)
	}

	return &coinscot.Answer{Text: FormatBalance(user, balance, c.currencyName)}
}

func (c *Coins) answerPool() *coinscot.Answer {
	balance, err := c.ledger.Balance(PoolAccount, false)
	if err != nil {
		return c.processingError(err)
	}

	remaining, err := c.pool.NextFillupIn()
	if err != nil {
		return c.processingError(err)
	}

	text := fmt.Sprintf("%s\nNext fillup in %s.", FormatBalance(PoolAccount, balance, c.currencyName), FormatNextFillup(remaining))
	return &coinscot.Answer{Text: text}
}

func (c *Coins) answerTip(m *coinscot.IncomingMessage, args []string) *coinscot.Answer {
	if len(args) < 2 {
		return &coinscot.Answer{Text: fmt.Sprintf("Usage: `%s tip @user <amount> [memo]`", c.triggers[0])}
	}

	payee, ok := parseRecipient(args[0])
	if !ok {
		return &coinscot.Answer{Text: fmt.Sprintf("%s is not a valid recipient.", args[0])}
	}

	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || amount <= 0 {
		return &coinscot.Answer{Text: fmt.Sprintf("%s is not a valid amount: + integers only.", args[1])}
	}

	if payee == m.User {
		return &coinscot.Answer{Text: "you can't pay yourself"}
	}

	// Touch both accounts so first-time users get their starting balance
	// before the payment applies
	if _, err := c.ledger.Balance(m.User, true); err != nil {
		return c.processingError(err)
	}
	if _, err := c.ledger.Balance(payee, true); err != nil {
		return c.processingError(err)
	}

	memo := fmt.Sprintf("Tip from %s", m.User)
	if len(args) > 2 {
		memo = strings.Join(args[2:], " ")
	}

	err = c.payer.Pay(m.User, payee, amount, memo)
	if IsInsufficientFunds(err) {
		return &coinscot.Answer{Text: fmt.Sprintf("You don't have enough %s", c.currencyName)}
	}
	if err != nil {
		return c.processingError(err)
	}

	return &coinscot.Answer{Text: fmt.Sprintf("%s gave %d %s to %s!", renderAccount(m.User), amount, c.currencyName, renderAccount(payee))}
}

func (c *Coins) answerBalances() *coinscot.Answer {
	accounts, err := c.ledger.AllBalances()
	if err != nil {
		return c.processingError(err)
	}

	visible := make([]Account, 0, len(accounts))
	for _, a := range accounts {
		if a.UserID == SystemAccount {
			continue
		}
		visible = append(visible, a)
	}

	return &coinscot.Answer{Text: FormatBalances(visible, c.gateway.GetDisplayName)}
}

// answerEscrow shows the pending rewards of the current cycle. Restricted to
// direct messages so pending amounts don't leak into the channel mid-cycle
func (c *Coins) answerEscrow(m *coinscot.IncomingMessage) *coinscot.Answer {
	if !coinscot.IsPrivateMessage(&m.Msg) {
		return &coinscot.Answer{Text: "Ask me that in a direct message."}
	}

	cycle, err := c.ledger.CurrentCycle()
	if err != nil {
		return c.processingError(err)
	}
	if cycle == nil {
		return &coinscot.Answer{Text: "The pool hasn't been filled yet."}
	}

	entries, err := c.ledger.UnpaidEscrow(cycle.ID)
	if err != nil {
		return c.processingError(err)
	}

	return &coinscot.Answer{Text: FormatEscrow(entries, c.gateway.GetDisplayName)}
}

func (c *Coins) answerReconcile(m *coinscot.IncomingMessage) *coinscot.Answer {
	// Payments issued while the replay runs can be lost to the corrected
	// ledger, so make the freeze window visible before starting
	c.announceAll("Reconciliation has started. Hold your payments until the all-clear report.")

	report, err := c.reconciler.Reconcile()
	if err != nil {
		return c.processingError(err)
	}

	return &coinscot.Answer{Text: FormatReconcileReport(report, c.currencyName)}
}

func (c *Coins) answerDedupe(args []string) *coinscot.Answer {
	var reversed []Transaction
	var err error

	if len(args) > 0 {
		user, ok := parseRecipient(args[0])
		if !ok {
			return &coinscot.Answer{Text: fmt.Sprintf("%s is not a valid recipient.", args[0])}
		}
		reversed, err = c.reconciler.DedupeUser(user)
	} else {
		reversed, err = c.reconciler.DedupeAll()
	}

	if err != nil {
		return c.processingError(err)
	}

	return &coinscot.Answer{Text: FormatDedupeReport(reversed, c.currencyName)}
}

func (c *Coins) answerBackup(args []string) *coinscot.Answer {
	if len(args) < 1 {
		return &coinscot.Answer{Text: fmt.Sprintf("Usage: `%s backup <path>`", c.triggers[0])}
	}

	if err := c.reconciler.ExportBackup(args[0]); err != nil {
		return c.processingError(err)
	}

	return &coinscot.Answer{Text: fmt.Sprintf("Transaction log exported to `%s`.", args[0])}
}

// adminOnly gates a handler behind the configured admin list
func (c *Coins) adminOnly(m *coinscot.IncomingMessage, handler coinscot.Answerer) *coinscot.Answer {
	if !c.admins[m.User] {
		return &coinscot.Answer{Text: "This command is restricted to admins."}
	}

	return handler(m)
}

func (c *Coins) processingError(err error) *coinscot.Answer {
	c.logger.Printf("[%s] command failed: %v\n", CoinsPluginName, err)
	return &coinscot.Answer{Text: "There was an error processing this request. See logs."}
}

// parseRecipient extracts a user id from a mention (`<@U123>` or `<@U123|name>`)
// or accepts a raw user id
func parseRecipient(raw string) (userID string, ok bool) {
	if match := mentionedUserRegexp.FindStringSubmatch(raw); len(match) > 1 {
		return match[1], true
	}

	if userIDRegexp.MatchString(raw) {
		return raw, true
	}

	return "", false
}
