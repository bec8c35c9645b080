package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"ledgerbot/internal/lunch"
	"ledgerbot/internal/repo"
	"ledgerbot/internal/tg"
)

// fakeStore embeds the interface so only the methods a test exercises need
// implementing; anything else panics loudly.
type fakeStore struct {
	repo.Store

	settings    *repo.Settings
	savedTokens map[int64]string
	msgToTx     map[int64]int64
	reviewed    []int64
	unreviewed  []int64
	reviewedTx  []int64
}

func newHandlerFakeStore() *fakeStore {
	return &fakeStore{
		savedTokens: make(map[int64]string),
		msgToTx:     make(map[int64]int64),
	}
}

func (s *fakeStore) GetSettings(_ context.Context, _ int64) (*repo.Settings, error) {
	return s.settings, nil
}

func (s *fakeStore) SaveToken(_ context.Context, chatID int64, token string) error {
	s.savedTokens[chatID] = token
	return nil
}

func (s *fakeStore) GetTxForMessage(_ context.Context, messageID, _ int64) (int64, bool, error) {
	txID, ok := s.msgToTx[messageID]
	return txID, ok, nil
}

func (s *fakeStore) MarkReviewed(_ context.Context, messageID, _ int64) error {
	s.reviewed = append(s.reviewed, messageID)
	return nil
}

func (s *fakeStore) MarkUnreviewed(_ context.Context, messageID, _ int64) error {
	s.unreviewed = append(s.unreviewed, messageID)
	return nil
}

func (s *fakeStore) MarkReviewedByTxID(_ context.Context, txID, _ int64) error {
	s.reviewedTx = append(s.reviewedTx, txID)
	return nil
}

type fakeLedger struct {
	user       *lunch.User
	userErr    error
	tx         *lunch.Transaction
	categories []lunch.Category

	updates     map[int64]lunch.TransactionUpdate
	invalidated int
}

func (l *fakeLedger) GetUser(_ context.Context) (*lunch.User, error) {
	return l.user, l.userErr
}

func (l *fakeLedger) GetTransaction(_ context.Context, _ int64) (*lunch.Transaction, error) {
	if l.tx == nil {
		return nil, errors.New("no transaction")
	}
	return l.tx, nil
}

func (l *fakeLedger) UpdateTransaction(_ context.Context, id int64, update lunch.TransactionUpdate) error {
	if l.updates == nil {
		l.updates = make(map[int64]lunch.TransactionUpdate)
	}
	l.updates[id] = update
	return nil
}

func (l *fakeLedger) ListCategories(_ context.Context) ([]lunch.Category, error) {
	return l.categories, nil
}

func (l *fakeLedger) InvalidateCategories(_ context.Context) error {
	l.invalidated++
	return nil
}

type fakeTransport struct {
	messages []string
	deleted  []int64
	edits    []int64
	answers  []string
}

func (t *fakeTransport) SendMessage(_ context.Context, _ int64, text string, _ *tg.SendOptions) (int64, error) {
	t.messages = append(t.messages, text)
	return int64(len(t.messages)), nil
}

func (t *fakeTransport) EditMessageText(_ context.Context, _, messageID int64, _ string, _ *tg.SendOptions) error {
	t.edits = append(t.edits, messageID)
	return nil
}

func (t *fakeTransport) EditMessageReplyMarkup(_ context.Context, _, messageID int64, _ *tg.InlineKeyboardMarkup) error {
	t.edits = append(t.edits, messageID)
	return nil
}

func (t *fakeTransport) DeleteMessage(_ context.Context, _, messageID int64) error {
	t.deleted = append(t.deleted, messageID)
	return nil
}

func (t *fakeTransport) AnswerCallbackQuery(_ context.Context, _, text string, _ bool) error {
	t.answers = append(t.answers, text)
	return nil
}

func (t *fakeTransport) SetMessageReaction(_ context.Context, _, _ int64, _ string) error {
	return nil
}

func (t *fakeTransport) UpdateTransactionMessage(_ context.Context, _, messageID int64, _ *lunch.Transaction) error {
	t.edits = append(t.edits, messageID)
	return nil
}

type fakePoller struct {
	calls []int64
	err   error
}

func (p *fakePoller) RunPollingPass(_ context.Context, chatID int64) error {
	p.calls = append(p.calls, chatID)
	return p.err
}

func newTestHandler(store *fakeStore, ledger *fakeLedger, transport *fakeTransport, p *fakePoller) *Handler {
	return New(Config{
		Store:     store,
		ClientFor: func(string) Ledger { return ledger },
		Transport: transport,
		Poller:    p,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func activeSettings() *repo.Settings {
	return &repo.Settings{
		ChatID:     7,
		Token:      "token",
		TokenState: repo.TokenStateActive,
	}
}

func textUpdate(chatID int64, text string) *tg.Update {
	return &tg.Update{Message: &tg.Message{
		MessageID: 11,
		Chat:      tg.Chat{ID: chatID},
		Text:      text,
	}}
}

func TestTokenRegistration(t *testing.T) {
	store := newHandlerFakeStore()
	ledger := &fakeLedger{user: &lunch.User{BudgetName: "Family budget"}}
	transport := &fakeTransport{}
	h := newTestHandler(store, ledger, transport, &fakePoller{})

	token := strings.Repeat("a", 40)
	h.ProcessUpdate(context.Background(), textUpdate(7, token))

	if store.savedTokens[7] != token {
		t.Fatalf("token not saved: %q", store.savedTokens[7])
	}
	if len(transport.deleted) != 1 || transport.deleted[0] != 11 {
		t.Fatalf("token message not deleted: %v", transport.deleted)
	}
	if len(transport.messages) != 1 || !strings.Contains(transport.messages[0], "Family budget") {
		t.Fatalf("unexpected confirmation: %v", transport.messages)
	}
	if ledger.invalidated != 1 {
		t.Fatalf("category cache not invalidated on registration")
	}
}

func TestTokenRejected(t *testing.T) {
	store := newHandlerFakeStore()
	ledger := &fakeLedger{userErr: lunch.ErrTokenRevoked}
	transport := &fakeTransport{}
	h := newTestHandler(store, ledger, transport, &fakePoller{})

	h.ProcessUpdate(context.Background(), textUpdate(7, strings.Repeat("a", 40)))

	if len(store.savedTokens) != 0 {
		t.Fatalf("rejected token was saved")
	}
	if len(transport.messages) != 1 || !strings.Contains(transport.messages[0], "rejected") {
		t.Fatalf("unexpected reply: %v", transport.messages)
	}
}

func TestShortTextIsNotAToken(t *testing.T) {
	store := newHandlerFakeStore()
	transport := &fakeTransport{}
	h := newTestHandler(store, &fakeLedger{}, transport, &fakePoller{})

	h.ProcessUpdate(context.Background(), textUpdate(7, "hello"))

	if len(store.savedTokens) != 0 {
		t.Fatalf("short text treated as token")
	}
}

func TestCheckCommandRunsPoll(t *testing.T) {
	store := newHandlerFakeStore()
	store.settings = activeSettings()
	p := &fakePoller{}
	h := newTestHandler(store, &fakeLedger{}, &fakeTransport{}, p)

	h.ProcessUpdate(context.Background(), textUpdate(7, "/check"))

	if len(p.calls) != 1 || p.calls[0] != 7 {
		t.Fatalf("manual poll not triggered: %v", p.calls)
	}
}

func TestCheckCommandUnregistered(t *testing.T) {
	store := newHandlerFakeStore()
	p := &fakePoller{}
	transport := &fakeTransport{}
	h := newTestHandler(store, &fakeLedger{}, transport, p)

	h.ProcessUpdate(context.Background(), textUpdate(7, "/check"))

	if len(p.calls) != 0 {
		t.Fatalf("poll triggered for unregistered chat")
	}
	if len(transport.messages) != 1 {
		t.Fatalf("expected a registration hint, got %v", transport.messages)
	}
}

func replyUpdate(chatID int64, text string, repliedMessageID int64) *tg.Update {
	return &tg.Update{Message: &tg.Message{
		MessageID:      12,
		Chat:           tg.Chat{ID: chatID},
		Text:           text,
		ReplyToMessage: &tg.Message{MessageID: repliedMessageID, Chat: tg.Chat{ID: chatID}},
	}}
}

func TestReplySetsNotes(t *testing.T) {
	store := newHandlerFakeStore()
	store.settings = activeSettings()
	store.msgToTx[55] = 900
	ledger := &fakeLedger{tx: &lunch.Transaction{ID: 900}}
	h := newTestHandler(store, ledger, &fakeTransport{}, &fakePoller{})

	h.ProcessUpdate(context.Background(), replyUpdate(7, "lunch with sam", 55))

	update, ok := ledger.updates[900]
	if !ok || update.Notes == nil || *update.Notes != "lunch with sam" {
		t.Fatalf("notes not applied: %+v", update)
	}
	if update.Tags != nil {
		t.Fatalf("prose reply produced tags: %v", update.Tags)
	}
}

func TestReplySetsTags(t *testing.T) {
	store := newHandlerFakeStore()
	store.settings = activeSettings()
	store.msgToTx[55] = 900
	ledger := &fakeLedger{tx: &lunch.Transaction{ID: 900}}
	h := newTestHandler(store, ledger, &fakeTransport{}, &fakePoller{})

	h.ProcessUpdate(context.Background(), replyUpdate(7, "#food #work", 55))

	update := ledger.updates[900]
	if len(update.Tags) != 2 || update.Tags[0] != "food" || update.Tags[1] != "work" {
		t.Fatalf("tags not applied: %v", update.Tags)
	}
	if update.Notes != nil {
		t.Fatalf("tag reply produced notes: %q", *update.Notes)
	}
}

func TestReplyTruncatesLongNotes(t *testing.T) {
	store := newHandlerFakeStore()
	store.settings = activeSettings()
	store.msgToTx[55] = 900
	ledger := &fakeLedger{tx: &lunch.Transaction{ID: 900}}
	h := newTestHandler(store, ledger, &fakeTransport{}, &fakePoller{})

	h.ProcessUpdate(context.Background(), replyUpdate(7, strings.Repeat("x", 500), 55))

	update := ledger.updates[900]
	if update.Notes == nil || len([]rune(*update.Notes)) != maxNoteLength {
		t.Fatalf("notes not truncated to %d runes", maxNoteLength)
	}
}

func callbackUpdate(chatID int64, data string) *tg.Update {
	return &tg.Update{CallbackQuery: &tg.CallbackQuery{
		ID:      "cb1",
		Data:    data,
		Message: &tg.Message{MessageID: 60, Chat: tg.Chat{ID: chatID}},
	}}
}

func TestReviewCallback(t *testing.T) {
	store := newHandlerFakeStore()
	store.settings = activeSettings()
	ledger := &fakeLedger{tx: &lunch.Transaction{ID: 900, Status: lunch.StatusCleared}}
	transport := &fakeTransport{}
	h := newTestHandler(store, ledger, transport, &fakePoller{})

	h.ProcessUpdate(context.Background(), callbackUpdate(7, tg.CallbackData(tg.CBReview, 900)))

	update := ledger.updates[900]
	if update.Status == nil || *update.Status != lunch.StatusCleared {
		t.Fatalf("transaction not cleared: %+v", update)
	}
	if len(store.reviewed) != 1 || store.reviewed[0] != 60 {
		t.Fatalf("record not stamped reviewed: %v", store.reviewed)
	}
	if len(transport.answers) != 1 {
		t.Fatalf("callback not answered")
	}
}

func TestCallbackWithoutRegistration(t *testing.T) {
	store := newHandlerFakeStore()
	transport := &fakeTransport{}
	h := newTestHandler(store, &fakeLedger{}, transport, &fakePoller{})

	h.ProcessUpdate(context.Background(), callbackUpdate(7, tg.CallbackData(tg.CBReview, 900)))

	if len(transport.answers) != 1 {
		t.Fatalf("unregistered callback not answered")
	}
}

func TestParseTagList(t *testing.T) {
	cases := []struct {
		in   string
		want []string
		ok   bool
	}{
		{"#food #work", []string{"food", "work"}, true},
		{"#food", []string{"food"}, true},
		{"#food and notes", nil, false},
		{"plain text", nil, false},
		{"#", nil, false},
		{"", nil, false},
	}
	for _, tc := range cases {
		got, ok := parseTagList(tc.in)
		if ok != tc.ok {
			t.Fatalf("parseTagList(%q) ok = %v, want %v", tc.in, ok, tc.ok)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("parseTagList(%q) = %v, want %v", tc.in, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("parseTagList(%q) = %v, want %v", tc.in, got, tc.want)
			}
		}
	}
}

func TestParseCategoryID(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"42", 42, true},
		{" 42 ", 42, true},
		{"`42`", 42, true},
		{"The category is 42.", 42, true},
		{"no number here", 0, false},
	}
	for _, tc := range cases {
		got, err := parseCategoryID(tc.in)
		if tc.ok && err != nil {
			t.Fatalf("parseCategoryID(%q) failed: %v", tc.in, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("parseCategoryID(%q) should fail", tc.in)
		}
		if tc.ok && got != tc.want {
			t.Fatalf("parseCategoryID(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
