package poller

import (
	"context"
	"time"

	"ledgerbot/internal/lunch"
	"ledgerbot/internal/repo"
)

// reconcileIDs joins freshly posted transactions to their stored pending
// records. The join key is the aggregator's pending_transaction_id matched
// against the plaid id stored when the pending message went out. Ledger ids
// never participate in the match; they are the thing that changed. Returns
// the message ids of the rewritten records.
func (p *Poller) reconcileIDs(ctx context.Context, chatID int64, posted []lunch.Transaction, now time.Time) []int64 {
	records, err := p.store.GetSentSince(ctx, chatID, now.AddDate(0, 0, -recordWindowDays))
	if err != nil {
		p.logger.Error("load sent records failed", "chat_id", chatID, "error", err)
		return nil
	}

	stored := make(map[string]repo.SentTransaction, len(records))
	for _, rec := range records {
		if rec.PlaidID != nil && *rec.PlaidID != "" {
			stored[*rec.PlaidID] = rec
		}
	}

	var messageIDs []int64
	for i := range posted {
		tx := &posted[i]
		if tx.Plaid == nil || tx.Plaid.PendingTransactionID == nil || *tx.Plaid.PendingTransactionID == "" {
			continue
		}
		pendingID := *tx.Plaid.PendingTransactionID
		rec, ok := stored[pendingID]
		if !ok {
			continue
		}
		if rec.TxID == tx.ID {
			continue
		}

		matched, err := p.store.UpdateTxIDsByPlaidID(ctx, pendingID, tx.ID, plaidID(tx))
		if err != nil {
			p.logger.Error("rewrite sent record failed", "chat_id", chatID, "tx_id", tx.ID, "error", err)
			p.countError()
			continue
		}
		if !matched {
			continue
		}
		if p.metrics != nil {
			p.metrics.IDReconciliations.Inc()
		}
		p.logger.Info("reconciled transaction identity",
			"chat_id", chatID, "old_tx_id", rec.TxID, "new_tx_id", tx.ID)
		messageIDs = append(messageIDs, rec.MessageID)
	}
	return messageIDs
}
