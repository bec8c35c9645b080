package poller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"ledgerbot/internal/lunch"
	"ledgerbot/internal/repo"
)

type fakeStore struct {
	settings   map[int64]*repo.Settings
	records    []repo.SentTransaction
	lastPolls  []int64
	stateCalls map[int64]string

	markAsSentErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		settings:   make(map[int64]*repo.Settings),
		stateCalls: make(map[int64]string),
	}
}

func (s *fakeStore) GetSettings(_ context.Context, chatID int64) (*repo.Settings, error) {
	return s.settings[chatID], nil
}

func (s *fakeStore) AllRegisteredChats(_ context.Context) ([]int64, error) {
	chats := make([]int64, 0, len(s.settings))
	for chatID := range s.settings {
		chats = append(chats, chatID)
	}
	return chats, nil
}

func (s *fakeStore) UpdateLastPollAt(_ context.Context, chatID int64, at time.Time) error {
	s.lastPolls = append(s.lastPolls, chatID)
	if settings, ok := s.settings[chatID]; ok {
		stamp := at
		settings.LastPollAt = &stamp
	}
	return nil
}

func (s *fakeStore) SetTokenState(_ context.Context, chatID int64, state string) error {
	s.stateCalls[chatID] = state
	if settings, ok := s.settings[chatID]; ok {
		settings.TokenState = state
	}
	return nil
}

func (s *fakeStore) MarkAsSent(_ context.Context, rec repo.SentTransaction) (*repo.SentTransaction, error) {
	if s.markAsSentErr != nil {
		return nil, s.markAsSentErr
	}
	rec.ID = fmt.Sprintf("rec-%d", len(s.records)+1)
	rec.CreatedAt = time.Now()
	s.records = append(s.records, rec)
	return &rec, nil
}

func (s *fakeStore) WasAlreadySent(_ context.Context, txID int64) (bool, error) {
	for _, rec := range s.records {
		if rec.TxID == txID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) GetSentSince(_ context.Context, chatID int64, since time.Time) ([]repo.SentTransaction, error) {
	var out []repo.SentTransaction
	for _, rec := range s.records {
		if rec.ChatID == chatID && !rec.CreatedAt.Before(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *fakeStore) GetTxForMessage(_ context.Context, messageID, chatID int64) (int64, bool, error) {
	for _, rec := range s.records {
		if rec.MessageID == messageID && rec.ChatID == chatID {
			return rec.TxID, true, nil
		}
	}
	return 0, false, nil
}

func (s *fakeStore) UpdateTxIDsByPlaidID(_ context.Context, oldPlaidID string, newTxID int64, newPlaidID *string) (bool, error) {
	for i := range s.records {
		if s.records[i].PlaidID != nil && *s.records[i].PlaidID == oldPlaidID {
			s.records[i].TxID = newTxID
			s.records[i].PlaidID = newPlaidID
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) MarkReviewedByTxID(_ context.Context, txID, chatID int64) error {
	for i := range s.records {
		if s.records[i].TxID == txID && s.records[i].ChatID == chatID {
			now := time.Now()
			s.records[i].ReviewedAt = &now
		}
	}
	return nil
}

type fakeLedger struct {
	posted  []lunch.Transaction
	pending []lunch.Transaction
	listErr error

	updateErrs map[int64]error
	updated    []int64
}

func (l *fakeLedger) ListTransactions(_ context.Context, pending bool, _, _ time.Time) ([]lunch.Transaction, error) {
	if l.listErr != nil {
		return nil, l.listErr
	}
	if pending {
		return append([]lunch.Transaction(nil), l.pending...), nil
	}
	return append([]lunch.Transaction(nil), l.posted...), nil
}

func (l *fakeLedger) GetTransaction(_ context.Context, id int64) (*lunch.Transaction, error) {
	for _, txs := range [][]lunch.Transaction{l.posted, l.pending} {
		for i := range txs {
			if txs[i].ID == id {
				tx := txs[i]
				return &tx, nil
			}
		}
	}
	return nil, fmt.Errorf("transaction %d not found", id)
}

func (l *fakeLedger) UpdateTransaction(_ context.Context, id int64, _ lunch.TransactionUpdate) error {
	if err, ok := l.updateErrs[id]; ok {
		return err
	}
	l.updated = append(l.updated, id)
	return nil
}

type sentMessage struct {
	chatID    int64
	txID      int64
	messageID int64
}

type fakeMessenger struct {
	nextMessageID int64
	sent          []sentMessage
	edits         []sentMessage
	sendErr       error
}

func (m *fakeMessenger) SendTransactionMessage(_ context.Context, chatID int64, tx *lunch.Transaction) (int64, error) {
	if m.sendErr != nil {
		return 0, m.sendErr
	}
	m.nextMessageID++
	m.sent = append(m.sent, sentMessage{chatID: chatID, txID: tx.ID, messageID: m.nextMessageID})
	return m.nextMessageID, nil
}

func (m *fakeMessenger) UpdateTransactionMessage(_ context.Context, chatID, messageID int64, tx *lunch.Transaction) error {
	m.edits = append(m.edits, sentMessage{chatID: chatID, txID: tx.ID, messageID: messageID})
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPoller(store *fakeStore, ledger *fakeLedger, messenger *fakeMessenger) *Poller {
	return New(Config{
		Store:     store,
		ClientFor: func(string) Ledger { return ledger },
		Messenger: messenger,
		Logger:    testLogger(),
	})
}

func registeredSettings(chatID int64) *repo.Settings {
	return &repo.Settings{
		ChatID:           chatID,
		Token:            "token",
		TokenState:       repo.TokenStateActive,
		PollIntervalSecs: 3600,
		PollPending:      true,
	}
}

func strPtr(s string) *string { return &s }

func postedTx(id int64, plaidTxID, pendingID string) lunch.Transaction {
	tx := lunch.Transaction{
		ID:       id,
		Date:     time.Now().UTC().Format("2006-01-02"),
		Amount:   "12.50",
		Currency: "usd",
		Payee:    "Coffee",
		Status:   lunch.StatusUncleared,
		Plaid:    &lunch.PlaidMetadata{},
	}
	if plaidTxID != "" {
		tx.Plaid.TransactionID = strPtr(plaidTxID)
	}
	if pendingID != "" {
		tx.Plaid.PendingTransactionID = strPtr(pendingID)
	}
	return tx
}
