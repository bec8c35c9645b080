package poller

import (
	"context"
	"testing"
	"time"

	"ledgerbot/internal/lunch"
	"ledgerbot/internal/repo"
)

func seedPendingRecord(store *fakeStore, chatID, txID int64, plaidID string, messageID int64) {
	store.records = append(store.records, repo.SentTransaction{
		ID:        "seed",
		ChatID:    chatID,
		TxID:      txID,
		PlaidID:   strPtr(plaidID),
		MessageID: messageID,
		Pending:   true,
		CreatedAt: time.Now().Add(-time.Hour),
	})
}

func TestReconcileRewritesIdentity(t *testing.T) {
	store := newFakeStore()
	store.settings[100] = registeredSettings(100)
	// Pending tx 1000 was announced with plaid id P1; it posted as tx 2000
	// under plaid id P2, carrying P1 as its pending id.
	seedPendingRecord(store, 100, 1000, "P1", 555)

	ledger := &fakeLedger{
		posted: []lunch.Transaction{postedTx(2000, "P2", "P1")},
	}
	messenger := &fakeMessenger{}
	p := newTestPoller(store, ledger, messenger)

	if err := p.RunPollingPass(context.Background(), 100); err != nil {
		t.Fatalf("polling pass failed: %v", err)
	}

	rec := store.records[0]
	if rec.TxID != 2000 {
		t.Fatalf("record still carries old ledger id %d", rec.TxID)
	}
	if rec.PlaidID == nil || *rec.PlaidID != "P2" {
		t.Fatalf("record plaid id not rewritten: %+v", rec.PlaidID)
	}

	// The reconciled transaction must refresh the existing message, not
	// produce a new one.
	if len(messenger.sent) != 0 {
		t.Fatalf("reconciled transaction announced again: %+v", messenger.sent)
	}
	if len(messenger.edits) != 1 || messenger.edits[0].txID != 2000 {
		t.Fatalf("expected one message refresh for tx 2000, got %+v", messenger.edits)
	}
}

func TestReconcileIgnoresUnknownPendingID(t *testing.T) {
	store := newFakeStore()
	store.settings[100] = registeredSettings(100)
	seedPendingRecord(store, 100, 1000, "P1", 555)

	// Posted transaction whose pending id matches nothing we sent.
	ledger := &fakeLedger{
		posted: []lunch.Transaction{postedTx(3000, "P9", "P8")},
	}
	messenger := &fakeMessenger{}
	p := newTestPoller(store, ledger, messenger)

	if err := p.RunPollingPass(context.Background(), 100); err != nil {
		t.Fatalf("polling pass failed: %v", err)
	}
	if store.records[0].TxID != 1000 {
		t.Fatalf("unrelated record rewritten: %+v", store.records[0])
	}
	if len(messenger.sent) != 1 || messenger.sent[0].txID != 3000 {
		t.Fatalf("unmatched posted transaction should be announced: %+v", messenger.sent)
	}
}

func TestReconcileSkippedWhenPendingDisabled(t *testing.T) {
	store := newFakeStore()
	settings := registeredSettings(100)
	settings.PollPending = false
	store.settings[100] = settings
	seedPendingRecord(store, 100, 1000, "P1", 555)

	ledger := &fakeLedger{
		posted: []lunch.Transaction{postedTx(2000, "P2", "P1")},
	}
	messenger := &fakeMessenger{}
	p := newTestPoller(store, ledger, messenger)

	if err := p.RunPollingPass(context.Background(), 100); err != nil {
		t.Fatalf("polling pass failed: %v", err)
	}
	// Without pending polling there is no pending-to-posted transition to
	// chase, so the record keeps its ids and no message is refreshed.
	if store.records[0].TxID != 1000 {
		t.Fatalf("record rewritten with pending polling off: %+v", store.records[0])
	}
	if len(messenger.edits) != 0 {
		t.Fatalf("resync ran with pending polling off: %+v", messenger.edits)
	}
}

func TestReconcileSkipsRecordsOutsideWindow(t *testing.T) {
	store := newFakeStore()
	store.settings[100] = registeredSettings(100)
	seedPendingRecord(store, 100, 1000, "P1", 555)
	// Age the record past the join window.
	store.records[0].CreatedAt = time.Now().AddDate(0, 0, -(recordWindowDays + 1))

	ledger := &fakeLedger{
		posted: []lunch.Transaction{postedTx(2000, "P2", "P1")},
	}
	messenger := &fakeMessenger{}
	p := newTestPoller(store, ledger, messenger)

	if err := p.RunPollingPass(context.Background(), 100); err != nil {
		t.Fatalf("polling pass failed: %v", err)
	}
	if store.records[0].TxID != 1000 {
		t.Fatalf("stale record rewritten: %+v", store.records[0])
	}
}

func TestReconcileNoopWhenIDsAlreadyMatch(t *testing.T) {
	store := newFakeStore()
	store.settings[100] = registeredSettings(100)
	store.records = append(store.records, repo.SentTransaction{
		ID:        "seed",
		ChatID:    100,
		TxID:      2000,
		PlaidID:   strPtr("P1"),
		MessageID: 555,
		CreatedAt: time.Now().Add(-time.Hour),
	})

	ledger := &fakeLedger{
		posted: []lunch.Transaction{postedTx(2000, "P2", "P1")},
	}
	messenger := &fakeMessenger{}
	p := newTestPoller(store, ledger, messenger)

	if err := p.RunPollingPass(context.Background(), 100); err != nil {
		t.Fatalf("polling pass failed: %v", err)
	}
	if len(messenger.edits) != 0 {
		t.Fatalf("noop reconciliation refreshed a message: %+v", messenger.edits)
	}
	if store.records[0].PlaidID == nil || *store.records[0].PlaidID != "P1" {
		t.Fatalf("record rewritten without an id change: %+v", store.records[0])
	}
}

func TestFetchOrderingPrefersAuthorizedTime(t *testing.T) {
	later := postedTx(1, "a", "")
	later.Date = "2026-08-20"
	later.Plaid.AuthorizedDatetime = strPtr("2026-08-20T18:00:00Z")

	earlier := postedTx(2, "b", "")
	earlier.Date = "2026-08-21"
	earlier.Plaid.AuthorizedDatetime = strPtr("2026-08-20T09:00:00Z")

	noAuth := postedTx(3, "c", "")
	noAuth.Date = "2026-08-19"

	ledger := &fakeLedger{posted: []lunch.Transaction{later, earlier, noAuth}}
	txs, err := fetchTransactions(context.Background(), ledger, false, time.Now())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	var got []int64
	for _, tx := range txs {
		got = append(got, tx.ID)
	}
	want := []int64{3, 2, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("wrong order: got %v want %v", got, want)
		}
	}
}

func TestFetchDropsMismatchedPendingState(t *testing.T) {
	stray := postedTx(9, "x", "")
	stray.IsPending = true
	ledger := &fakeLedger{posted: []lunch.Transaction{postedTx(1, "a", ""), stray}}

	txs, err := fetchTransactions(context.Background(), ledger, false, time.Now())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(txs) != 1 || txs[0].ID != 1 {
		t.Fatalf("pending transaction leaked into posted fetch: %+v", txs)
	}
}
