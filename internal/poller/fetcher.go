package poller

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ledgerbot/internal/lunch"
)

const (
	// fetchLookbackDays bounds the ledger query window.
	fetchLookbackDays = 15
	// recordWindowDays bounds how far back sent records are considered when
	// joining pending and posted identities.
	recordWindowDays = 14
)

// fetchTransactions pulls transactions in the lookback window restricted to
// the requested pending state and returns them oldest first.
func fetchTransactions(ctx context.Context, client Ledger, pending bool, now time.Time) ([]lunch.Transaction, error) {
	end := midnightUTC(now)
	start := end.AddDate(0, 0, -fetchLookbackDays)

	txs, err := client.ListTransactions(ctx, pending, start, end)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	// The ledger occasionally ignores the pending filter; drop mismatches.
	filtered := txs[:0]
	for _, tx := range txs {
		if tx.IsPending == pending {
			filtered = append(filtered, tx)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return effectiveTime(&filtered[i]).Before(effectiveTime(&filtered[j]))
	})
	return filtered, nil
}

// effectiveTime orders transactions by the aggregator's authorization moment
// when present, falling back to the ledger date at midnight UTC.
func effectiveTime(tx *lunch.Transaction) time.Time {
	if ts, ok := tx.Plaid.AuthorizedTime(); ok {
		return ts
	}
	if ts, err := time.Parse("2006-01-02", tx.Date); err == nil {
		return ts
	}
	return time.Time{}
}

func midnightUTC(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
