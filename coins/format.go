package coins

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"
)

// renderAccount renders an account id for chat output: users get a mention,
// the synthetic accounts a friendly name
func renderAccount(userID string) string {
	switch userID {
	case PoolAccount:
		return "The Pool"
	case EscrowAccount:
		return "Escrow"
	case SystemAccount:
		return SystemAccount
	default:
		return fmt.Sprintf("<@%s>", userID)
	}
}

// FormatBalance renders a single balance line
func FormatBalance(userID string, balance int64, currencyName string) string {
	return fmt.Sprintf("%s has %d %s.", renderAccount(userID), balance, currencyName)
}

// FormatBalances renders all balances as a table inside a code fence, sorted
// by display name. displayName resolves a user id to the name shown
func FormatBalances(accounts []Account, displayName func(string) string) string {
	rows := make([][2]string, 0, len(accounts))
	for _, a := range accounts {
		name := displayName(a.UserID)
		if a.UserID == PoolAccount || a.UserID == EscrowAccount {
			name = renderAccount(a.UserID)
		} else {
			name = "@" + name
		}

		rows = append(rows, [2]string{name, fmt.Sprintf("%d", a.Balance)})
	}

	sort.Slice(rows, func(i, j int) bool {
		return strings.ToLower(rows[i][0]) < strings.ToLower(rows[j][0])
	})

	var b bytes.Buffer
	b.WriteString("```\n")

	w := new(tabwriter.Writer)
	bufw := bufio.NewWriter(&b)
	w.Init(bufw, 5, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Name\tBalance\n")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\n", r[0], r[1])
	}

	w.Flush()
	bufw.Flush()
	b.WriteString("```")

	return b.String()
}

// FormatEscrow renders the unpaid escrow entries of the current cycle
func FormatEscrow(entries []EscrowEntry, displayName func(string) string) string {
	if len(entries) == 0 {
		return "No unpaid escrow for the current cycle."
	}

	var b bytes.Buffer
	b.WriteString("```\n")

	w := new(tabwriter.Writer)
	bufw := bufio.NewWriter(&b)
	w.Init(bufw, 5, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Name\tAmount\tReward\n")
	for _, e := range entries {
		fmt.Fprintf(w, "@%s\t%d\t%s\n", displayName(e.PayeeID), e.Amount, describeReward(e.Memo))
	}

	w.Flush()
	bufw.Flush()
	b.WriteString("```")

	return b.String()
}

// FormatDisbursementReport renders the cycle-end payout announcement,
// including the secret word that applied during the cycle
func FormatDisbursementReport(payouts []Payout, secretWord string, currencyName string) string {
	var b strings.Builder

	b.WriteString("The Pool has been disbursed!\n")
	for _, p := range payouts {
		fmt.Fprintf(&b, "%s received %d %s for %s\n", renderAccount(p.User), p.Amount, currencyName, p.RewardType)
	}

	if secretWord != "" {
		fmt.Fprintf(&b, "The secret word was `%s`.", secretWord)
	}

	return strings.TrimRight(b.String(), "\n")
}

// FormatNextFillup renders the remaining time until the next pool refill the
// way users expect it: "N Hours, M Minutes"
func FormatNextFillup(remaining time.Duration) string {
	out := make([]string, 0, 2)

	hours := int64(remaining.Hours())
	if hours > 0 {
		out = append(out, fmt.Sprintf("%d Hours", hours))
	}

	minutes := int64(remaining.Minutes()) % 60
	if minutes > 0 {
		out = append(out, fmt.Sprintf("%d Minutes", minutes))
	}

	if len(out) == 0 {
		return "any moment now"
	}

	return strings.Join(out, ", ")
}

// FormatReconcileReport renders the corrections and removed transactions of a
// reconciliation run
func FormatReconcileReport(report *ReconcileReport, currencyName string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Reconciliation `%s` complete: %d transactions replayed.\n", report.RunID, report.Replayed)

	if len(report.Corrections) == 0 && len(report.Removed) == 0 {
		b.WriteString("No corrections needed.")
		return b.String()
	}

	if len(report.Corrections) > 0 {
		b.WriteString("Corrections:\n")
		for _, c := range report.Corrections {
			fmt.Fprintf(&b, "%s: %d -> %d %s\n", renderAccount(c.User), c.Previous, c.Recomputed, currencyName)
		}
	}

	if len(report.Removed) > 0 {
		b.WriteString("Removed transactions:\n")
		for _, rm := range report.Removed {
			fmt.Fprintf(&b, "%s -> %s, %d (%s): %s\n", renderAccount(rm.PayerID), renderAccount(rm.PayeeID), rm.Amount, rm.Memo, rm.Reason)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// FormatDedupeReport renders the reversed duplicate payouts of a dedupe run
func FormatDedupeReport(reversed []Transaction, currencyName string) string {
	if len(reversed) == 0 {
		return "No duplicate payouts found."
	}

	var b strings.Builder
	b.WriteString("Reversed duplicate payouts:\n")
	for _, tx := range reversed {
		fmt.Fprintf(&b, "%s: %d %s (tx %d)\n", renderAccount(tx.PayeeID), tx.Amount, currencyName, tx.ID)
	}

	return strings.TrimRight(b.String(), "\n")
}
