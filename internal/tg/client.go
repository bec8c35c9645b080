package tg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"ledgerbot/internal/lunch"
	"ledgerbot/internal/metrics"
)

const defaultAPIBase = "https://api.telegram.org"

// Config holds configuration to initialise the Telegram client.
type Config struct {
	BotToken string
	BaseURL  string
	Timeout  time.Duration
	Metrics  *metrics.Metrics
}

// Client wraps the Telegram Bot HTTP API.
type Client struct {
	apiBase   string
	token     string
	http      *http.Client
	logger    *slog.Logger
	metrics   *metrics.Metrics
	processor UpdateProcessor
}

// UpdateProcessor handles inbound Telegram updates.
type UpdateProcessor interface {
	ProcessUpdate(ctx context.Context, upd *Update)
}

// New creates a new Telegram client instance.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("bot token is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultAPIBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiBase: base,
		token:   cfg.BotToken,
		http:    &http.Client{Timeout: timeout + 35*time.Second},
		logger:  logger.With("component", "tg"),
		metrics: cfg.Metrics,
	}, nil
}

// SetUpdateProcessor registers the update processor callback.
func (c *Client) SetUpdateProcessor(processor UpdateProcessor) {
	c.processor = processor
}

// Start long-polls getUpdates until the context is cancelled, dispatching
// each update to the registered processor.
func (c *Client) Start(ctx context.Context) error {
	c.logger.Info("telegram long polling started")
	var offset int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		updates, err := c.getUpdates(ctx, offset, 30)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("get updates failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
			continue
		}

		for i := range updates {
			upd := &updates[i]
			offset = upd.UpdateID + 1
			if c.metrics != nil {
				c.metrics.TGIncomingUpdates.WithLabelValues(upd.kind()).Inc()
			}
			if c.processor != nil {
				c.processor.ProcessUpdate(ctx, upd)
			}
		}
	}
}

func (c *Client) getUpdates(ctx context.Context, offset int64, timeoutSecs int) ([]Update, error) {
	payload := map[string]any{
		"offset":          offset,
		"timeout":         timeoutSecs,
		"allowed_updates": []string{"message", "callback_query"},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage sends a plain message and returns its message id.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, opts *SendOptions) (int64, error) {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	applySendOptions(payload, opts)

	var msg Message
	if err := c.call(ctx, "sendMessage", payload, &msg); err != nil {
		return 0, err
	}
	if c.metrics != nil {
		c.metrics.TGOutgoingMessages.WithLabelValues("sendMessage").Inc()
	}
	return msg.MessageID, nil
}

// EditMessageText replaces the text (and keyboard) of an existing message.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string, opts *SendOptions) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}
	applySendOptions(payload, opts)

	if err := c.call(ctx, "editMessageText", payload, nil); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.TGOutgoingMessages.WithLabelValues("editMessageText").Inc()
	}
	return nil
}

// EditMessageReplyMarkup replaces only the inline keyboard of a message.
func (c *Client) EditMessageReplyMarkup(ctx context.Context, chatID, messageID int64, markup *InlineKeyboardMarkup) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	}
	if markup != nil {
		payload["reply_markup"] = markup
	}
	if err := c.call(ctx, "editMessageReplyMarkup", payload, nil); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.TGOutgoingMessages.WithLabelValues("editMessageReplyMarkup").Inc()
	}
	return nil
}

// DeleteMessage removes a message from the chat.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	}
	return c.call(ctx, "deleteMessage", payload, nil)
}

// AnswerCallbackQuery acknowledges a callback button press, optionally with
// an alert popup.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string, showAlert bool) error {
	payload := map[string]any{
		"callback_query_id": callbackID,
	}
	if text != "" {
		payload["text"] = text
		payload["show_alert"] = showAlert
	}
	return c.call(ctx, "answerCallbackQuery", payload, nil)
}

// SetMessageReaction reacts to a message with a single emoji.
func (c *Client) SetMessageReaction(ctx context.Context, chatID, messageID int64, emoji string) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"reaction":   []map[string]string{{"type": "emoji", "emoji": emoji}},
	}
	return c.call(ctx, "setMessageReaction", payload, nil)
}

// SendTransactionMessage renders the transaction and sends it as a new chat
// message, returning the new message id.
func (c *Client) SendTransactionMessage(ctx context.Context, chatID int64, tx *lunch.Transaction) (int64, error) {
	return c.SendMessage(ctx, chatID, RenderTransaction(tx), &SendOptions{
		ParseMode:   "Markdown",
		ReplyMarkup: TransactionKeyboard(tx, true),
	})
}

// UpdateTransactionMessage re-renders an already sent transaction message in
// place.
func (c *Client) UpdateTransactionMessage(ctx context.Context, chatID, messageID int64, tx *lunch.Transaction) error {
	return c.EditMessageText(ctx, chatID, messageID, RenderTransaction(tx), &SendOptions{
		ParseMode:   "Markdown",
		ReplyMarkup: TransactionKeyboard(tx, true),
	})
}

// SendOptions carries the optional sendMessage/editMessageText parameters.
type SendOptions struct {
	ParseMode        string
	ReplyMarkup      *InlineKeyboardMarkup
	ReplyToMessageID int64
	ForceReply       bool
}

func applySendOptions(payload map[string]any, opts *SendOptions) {
	if opts == nil {
		return
	}
	if opts.ParseMode != "" {
		payload["parse_mode"] = opts.ParseMode
	}
	if opts.ReplyMarkup != nil {
		payload["reply_markup"] = opts.ReplyMarkup
	}
	if opts.ReplyToMessageID != 0 {
		payload["reply_to_message_id"] = opts.ReplyToMessageID
	}
	if opts.ForceReply {
		payload["reply_markup"] = map[string]bool{"force_reply": true}
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

func (c *Client) call(ctx context.Context, method string, payload, dest any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.apiBase, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !envelope.OK {
		return fmt.Errorf("telegram %s: code=%d description=%s", method, envelope.ErrorCode, envelope.Description)
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, dest); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}
