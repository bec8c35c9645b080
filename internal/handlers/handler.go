package handlers

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"ledgerbot/internal/lunch"
	"ledgerbot/internal/metrics"
	"ledgerbot/internal/poller"
	"ledgerbot/internal/repo"
	"ledgerbot/internal/tg"
)

// Ledger is the slice of the ledger API the chat handlers use.
type Ledger interface {
	GetUser(ctx context.Context) (*lunch.User, error)
	GetTransaction(ctx context.Context, id int64) (*lunch.Transaction, error)
	UpdateTransaction(ctx context.Context, id int64, update lunch.TransactionUpdate) error
	ListCategories(ctx context.Context) ([]lunch.Category, error)
	InvalidateCategories(ctx context.Context) error
}

// Transport is the outbound chat surface.
type Transport interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts *tg.SendOptions) (int64, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string, opts *tg.SendOptions) error
	EditMessageReplyMarkup(ctx context.Context, chatID, messageID int64, markup *tg.InlineKeyboardMarkup) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string, showAlert bool) error
	SetMessageReaction(ctx context.Context, chatID, messageID int64, emoji string) error
	UpdateTransactionMessage(ctx context.Context, chatID, messageID int64, tx *lunch.Transaction) error
}

// PollRunner triggers an on-demand polling pass.
type PollRunner interface {
	RunPollingPass(ctx context.Context, chatID int64) error
}

// Categorizer suggests a category id for a transaction prompt.
type Categorizer interface {
	SuggestCategory(ctx context.Context, prompt string) (string, error)
}

// Config holds handler dependencies.
type Config struct {
	Store     repo.Store
	ClientFor func(token string) Ledger
	Transport Transport
	Poller    PollRunner
	LLM       Categorizer
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Handler routes incoming chat updates to commands, replies and inline
// keyboard callbacks.
type Handler struct {
	store     repo.Store
	clientFor func(token string) Ledger
	transport Transport
	poller    PollRunner
	llm       Categorizer
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New creates a handler.
func New(cfg Config) *Handler {
	return &Handler{
		store:     cfg.Store,
		clientFor: cfg.ClientFor,
		transport: cfg.Transport,
		poller:    cfg.Poller,
		llm:       cfg.LLM,
		logger:    cfg.Logger.With("component", "handlers"),
		metrics:   cfg.Metrics,
	}
}

// ProcessUpdate implements tg.UpdateProcessor.
func (h *Handler) ProcessUpdate(ctx context.Context, upd *tg.Update) {
	switch {
	case upd.CallbackQuery != nil:
		h.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil:
		h.handleMessage(ctx, upd.Message)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *tg.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	if strings.HasPrefix(text, "/") {
		h.handleCommand(ctx, msg, text)
		return
	}
	if msg.ReplyToMessage != nil {
		h.handleReply(ctx, msg, text)
		return
	}
	h.handleTokenCandidate(ctx, msg, text)
}

func (h *Handler) handleCommand(ctx context.Context, msg *tg.Message, text string) {
	command := strings.ToLower(strings.Fields(text)[0])
	// Group chats address commands as /cmd@botname.
	if i := strings.Index(command, "@"); i > 0 {
		command = command[:i]
	}

	switch command {
	case "/start":
		h.cmdStart(ctx, msg.Chat.ID)
	case "/register":
		fields := strings.Fields(text)
		if len(fields) < 2 {
			h.reply(ctx, msg.Chat.ID, "Usage: /register <api token>")
			return
		}
		h.handleTokenCandidate(ctx, msg, fields[1])
	case "/settings":
		h.cmdSettings(ctx, msg.Chat.ID)
	case "/check":
		h.cmdCheck(ctx, msg)
	default:
		h.reply(ctx, msg.Chat.ID, "Unknown command. Try /settings or /check.")
	}
}

func (h *Handler) cmdStart(ctx context.Context, chatID int64) {
	h.reply(ctx, chatID,
		"Hi! I watch your Lunch Money transactions and post them here as they come in.\n\n"+
			"Send me your Lunch Money API token to get started. "+
			"You can create one at https://my.lunchmoney.app/developers.")
}

func (h *Handler) cmdCheck(ctx context.Context, msg *tg.Message) {
	chatID := msg.Chat.ID
	settings, err := h.store.GetSettings(ctx, chatID)
	if err != nil {
		h.logger.Error("load settings failed", "chat_id", chatID, "error", err)
		return
	}
	if settings == nil {
		h.reply(ctx, chatID, "Send me your Lunch Money API token first.")
		return
	}

	err = h.poller.RunPollingPass(ctx, chatID)
	switch {
	case err == nil:
		if reactErr := h.transport.SetMessageReaction(ctx, chatID, msg.MessageID, "👍"); reactErr != nil {
			h.logger.Debug("reaction failed", "chat_id", chatID, "error", reactErr)
		}
	case errors.Is(err, lunch.ErrTokenRevoked):
		h.reply(ctx, chatID, "Your API token was rejected by Lunch Money. Send me a new one to resume polling.")
	default:
		h.logger.Error("manual poll failed", "chat_id", chatID, "error", err)
		h.reply(ctx, chatID, "Something went wrong while checking for transactions. Try again in a bit.")
	}
}

// handleTokenCandidate treats a bare non-command message as a possible API
// token. The original message is deleted after validation so the credential
// does not linger in chat history.
func (h *Handler) handleTokenCandidate(ctx context.Context, msg *tg.Message, text string) {
	chatID := msg.Chat.ID
	if !looksLikeToken(text) {
		h.reply(ctx, chatID, "That does not look like a Lunch Money API token. Try /start for instructions.")
		return
	}

	client := h.clientFor(text)
	user, err := client.GetUser(ctx)
	if err != nil {
		h.logger.Warn("token validation failed", "chat_id", chatID, "error", err)
		h.reply(ctx, chatID, "Lunch Money rejected that token. Double-check it and send it again.")
		return
	}

	if err := h.store.SaveToken(ctx, chatID, text); err != nil {
		h.logger.Error("save token failed", "chat_id", chatID, "error", err)
		h.reply(ctx, chatID, "Could not save the token. Try again.")
		return
	}
	// A stale category list cached under this credential would leak into the
	// picker, so drop it now that the chat (re)registered.
	if err := client.InvalidateCategories(ctx); err != nil {
		h.logger.Warn("invalidate category cache failed", "chat_id", chatID, "error", err)
	}
	if err := h.transport.DeleteMessage(ctx, chatID, msg.MessageID); err != nil {
		h.logger.Debug("delete token message failed", "chat_id", chatID, "error", err)
	}

	budget := user.BudgetName
	if budget == "" {
		budget = "your budget"
	}
	h.reply(ctx, chatID,
		"Token saved, you are connected to "+budget+".\n"+
			"I deleted your message to keep the token out of the chat history.\n\n"+
			"Use /settings to tune polling, or /check to poll right now.")
}

func looksLikeToken(text string) bool {
	return len(text) >= 30 && !strings.ContainsAny(text, " \t\n")
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string) {
	if _, err := h.transport.SendMessage(ctx, chatID, text, nil); err != nil {
		h.logger.Error("send reply failed", "chat_id", chatID, "error", err)
	}
}

func (h *Handler) chatSettings(ctx context.Context, chatID int64) *repo.Settings {
	settings, err := h.store.GetSettings(ctx, chatID)
	if err != nil {
		h.logger.Error("load settings failed", "chat_id", chatID, "error", err)
		return nil
	}
	return settings
}

var _ tg.UpdateProcessor = (*Handler)(nil)
var _ PollRunner = (*poller.Poller)(nil)
