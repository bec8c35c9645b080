package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ledgerbot/internal/lunch"
	"ledgerbot/internal/metrics"
	"ledgerbot/internal/repo"
)

// ErrNotRegistered reports a polling request for a chat without a stored
// credential.
var ErrNotRegistered = errors.New("poller: chat is not registered")

// Ledger is the slice of the ledger API the polling loop uses.
type Ledger interface {
	ListTransactions(ctx context.Context, pending bool, start, end time.Time) ([]lunch.Transaction, error)
	GetTransaction(ctx context.Context, id int64) (*lunch.Transaction, error)
	UpdateTransaction(ctx context.Context, id int64, update lunch.TransactionUpdate) error
}

// Messenger delivers rendered transactions to a chat.
type Messenger interface {
	SendTransactionMessage(ctx context.Context, chatID int64, tx *lunch.Transaction) (int64, error)
	UpdateTransactionMessage(ctx context.Context, chatID, messageID int64, tx *lunch.Transaction) error
}

// Store is the persistence surface the poller depends on.
type Store interface {
	GetSettings(ctx context.Context, chatID int64) (*repo.Settings, error)
	AllRegisteredChats(ctx context.Context) ([]int64, error)
	UpdateLastPollAt(ctx context.Context, chatID int64, at time.Time) error
	SetTokenState(ctx context.Context, chatID int64, state string) error
	MarkAsSent(ctx context.Context, rec repo.SentTransaction) (*repo.SentTransaction, error)
	WasAlreadySent(ctx context.Context, txID int64) (bool, error)
	GetSentSince(ctx context.Context, chatID int64, since time.Time) ([]repo.SentTransaction, error)
	GetTxForMessage(ctx context.Context, messageID, chatID int64) (int64, bool, error)
	UpdateTxIDsByPlaidID(ctx context.Context, oldPlaidID string, newTxID int64, newPlaidID *string) (bool, error)
	MarkReviewedByTxID(ctx context.Context, txID, chatID int64) error
}

// Config holds poller dependencies.
type Config struct {
	Store     Store
	ClientFor func(token string) Ledger
	Messenger Messenger
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Poller runs the fetch, reconcile, review and send cycle for one chat at a
// time.
type Poller struct {
	store     Store
	clientFor func(token string) Ledger
	messenger Messenger
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// New creates a poller.
func New(cfg Config) *Poller {
	return &Poller{
		store:     cfg.Store,
		clientFor: cfg.ClientFor,
		messenger: cfg.Messenger,
		logger:    cfg.Logger.With("component", "poller"),
		metrics:   cfg.Metrics,
		now:       time.Now,
	}
}

// RunPollingPass executes one full cycle for the chat. A revoked credential
// is recorded on the settings row so the scheduler stops retrying it.
func (p *Poller) RunPollingPass(ctx context.Context, chatID int64) error {
	settings, err := p.store.GetSettings(ctx, chatID)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if settings == nil {
		return ErrNotRegistered
	}

	err = p.pollChat(ctx, chatID, settings)
	switch {
	case err == nil:
		p.observePass("ok")
	case errors.Is(err, lunch.ErrTokenRevoked):
		p.observePass("revoked")
		if stateErr := p.store.SetTokenState(ctx, chatID, repo.TokenStateRevoked); stateErr != nil {
			p.logger.Error("mark token revoked failed", "chat_id", chatID, "error", stateErr)
		} else {
			p.logger.Warn("credential revoked, polling disabled", "chat_id", chatID)
		}
	default:
		p.observePass("error")
	}
	return err
}

func (p *Poller) pollChat(ctx context.Context, chatID int64, settings *repo.Settings) error {
	client := p.clientFor(settings.Token)
	now := p.now()

	posted, err := fetchTransactions(ctx, client, false, now)
	if err != nil {
		return fmt.Errorf("fetch posted: %w", err)
	}

	var candidates []lunch.Transaction
	var updatedMessageIDs []int64
	if settings.PollPending {
		pending, err := fetchTransactions(ctx, client, true, now)
		if err != nil {
			return fmt.Errorf("fetch pending: %w", err)
		}
		// Pending transactions surface first so posted ones never jump the
		// queue.
		candidates = append(pending, posted...)

		updatedMessageIDs = p.reconcileIDs(ctx, chatID, posted, now)
		if settings.AutoMarkReviewed {
			reviewed := p.markPostedAsReviewed(ctx, client, chatID, posted, now)
			updatedMessageIDs = append(updatedMessageIDs, reviewed...)
		}
	} else {
		candidates = posted
		if settings.AutoMarkReviewed {
			p.autoReviewCandidates(ctx, client, chatID, candidates)
		}
	}

	p.sendNew(ctx, chatID, candidates)

	p.resyncMessages(ctx, client, chatID, updatedMessageIDs)
	return nil
}

// sendNew delivers every transaction that has not been surfaced anywhere
// before. The sent check is global across chats so a transaction is announced
// exactly once.
func (p *Poller) sendNew(ctx context.Context, chatID int64, candidates []lunch.Transaction) int {
	sent := 0
	for i := range candidates {
		tx := &candidates[i]

		already, err := p.store.WasAlreadySent(ctx, tx.ID)
		if err != nil {
			p.logger.Error("sent lookup failed", "chat_id", chatID, "tx_id", tx.ID, "error", err)
			p.countError()
			continue
		}
		if already {
			continue
		}

		messageID, err := p.messenger.SendTransactionMessage(ctx, chatID, tx)
		if err != nil {
			p.logger.Error("send transaction failed", "chat_id", chatID, "tx_id", tx.ID, "error", err)
			p.countError()
			continue
		}

		rec := repo.SentTransaction{
			ChatID:        chatID,
			TxID:          tx.ID,
			PlaidID:       plaidID(tx),
			MessageID:     messageID,
			Pending:       tx.IsPending,
			RecurringType: tx.RecurringType,
		}
		if !tx.IsPending && tx.Status == lunch.StatusCleared {
			reviewedAt := p.now()
			rec.ReviewedAt = &reviewedAt
		}
		if _, err := p.store.MarkAsSent(ctx, rec); err != nil {
			p.logger.Error("record sent transaction failed", "chat_id", chatID, "tx_id", tx.ID, "error", err)
			p.countError()
			continue
		}

		if p.metrics != nil {
			p.metrics.TransactionsSent.Inc()
		}
		sent++
	}
	return sent
}

// resyncMessages re-renders chat messages whose stored record changed during
// this pass, either by identity rewrite or by the review sweep. Each message
// id resolves back to its current ledger id through the store, and the
// transaction is re-fetched so the render reflects the upstream state rather
// than the snapshot this pass started from. One failing message does not stop
// the rest.
func (p *Poller) resyncMessages(ctx context.Context, client Ledger, chatID int64, messageIDs []int64) {
	seen := make(map[int64]bool, len(messageIDs))
	for _, messageID := range messageIDs {
		if seen[messageID] {
			continue
		}
		seen[messageID] = true

		txID, ok, err := p.store.GetTxForMessage(ctx, messageID, chatID)
		if err != nil {
			p.logger.Error("tx lookup failed", "chat_id", chatID, "message_id", messageID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		tx, err := client.GetTransaction(ctx, txID)
		if err != nil {
			p.logger.Warn("refetch transaction failed", "chat_id", chatID, "tx_id", txID, "error", err)
			continue
		}
		if err := p.messenger.UpdateTransactionMessage(ctx, chatID, messageID, tx); err != nil {
			p.logger.Warn("refresh message failed", "chat_id", chatID, "tx_id", txID, "error", err)
		}
	}
}

func plaidID(tx *lunch.Transaction) *string {
	if tx.Plaid != nil && tx.Plaid.TransactionID != nil && *tx.Plaid.TransactionID != "" {
		return tx.Plaid.TransactionID
	}
	return nil
}

func (p *Poller) observePass(outcome string) {
	if p.metrics != nil {
		p.metrics.PollingPasses.WithLabelValues(outcome).Inc()
	}
}

func (p *Poller) countError() {
	if p.metrics != nil {
		p.metrics.Errors.WithLabelValues("poller").Inc()
	}
}
