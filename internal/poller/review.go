package poller

import (
	"context"
	"time"

	"ledgerbot/internal/lunch"
)

// markPostedAsReviewed clears previously announced transactions that have
// since posted. The sweep walks the stored sent records in the trailing
// window and matches them by ledger id against the still-uncleared posted
// set; transactions this chat never surfaced are left alone. Returns the
// message ids of the records it reviewed so the caller can refresh them.
// One failing transaction does not stop the sweep.
func (p *Poller) markPostedAsReviewed(ctx context.Context, client Ledger, chatID int64, posted []lunch.Transaction, now time.Time) []int64 {
	records, err := p.store.GetSentSince(ctx, chatID, now.AddDate(0, 0, -recordWindowDays))
	if err != nil {
		p.logger.Error("load sent records failed", "chat_id", chatID, "error", err)
		return nil
	}

	byTxID := make(map[int64]*lunch.Transaction, len(posted))
	for i := range posted {
		if posted[i].Status == lunch.StatusCleared {
			continue
		}
		byTxID[posted[i].ID] = &posted[i]
	}

	var messageIDs []int64
	for _, rec := range records {
		tx, ok := byTxID[rec.TxID]
		if !ok {
			continue
		}

		status := lunch.StatusCleared
		if err := client.UpdateTransaction(ctx, tx.ID, lunch.TransactionUpdate{Status: &status}); err != nil {
			p.logger.Error("auto review failed", "chat_id", chatID, "tx_id", tx.ID, "error", err)
			p.countError()
			continue
		}
		tx.Status = lunch.StatusCleared

		if err := p.store.MarkReviewedByTxID(ctx, tx.ID, chatID); err != nil {
			p.logger.Warn("stamp reviewed record failed", "chat_id", chatID, "tx_id", tx.ID, "error", err)
		}
		messageIDs = append(messageIDs, rec.MessageID)
	}
	return messageIDs
}

// autoReviewCandidates clears still-uncleared candidates upstream, flipping
// the status in memory so the send that follows reflects it without a
// re-fetch. Used when pending polling is off and no resync pass runs.
func (p *Poller) autoReviewCandidates(ctx context.Context, client Ledger, chatID int64, candidates []lunch.Transaction) {
	for i := range candidates {
		tx := &candidates[i]
		if tx.Status == lunch.StatusCleared {
			continue
		}

		status := lunch.StatusCleared
		if err := client.UpdateTransaction(ctx, tx.ID, lunch.TransactionUpdate{Status: &status}); err != nil {
			p.logger.Error("auto review failed", "chat_id", chatID, "tx_id", tx.ID, "error", err)
			p.countError()
			continue
		}
		tx.Status = lunch.StatusCleared
	}
}
