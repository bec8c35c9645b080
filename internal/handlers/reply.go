package handlers

import (
	"context"
	"strings"

	"ledgerbot/internal/lunch"
	"ledgerbot/internal/tg"
)

// maxNoteLength caps notes at the ledger's field limit.
const maxNoteLength = 350

// handleReply applies a reply to a transaction message as either tags (when
// every word starts with #) or notes.
func (h *Handler) handleReply(ctx context.Context, msg *tg.Message, text string) {
	chatID := msg.Chat.ID
	settings := h.chatSettings(ctx, chatID)
	if settings == nil {
		return
	}

	txID, ok, err := h.store.GetTxForMessage(ctx, msg.ReplyToMessage.MessageID, chatID)
	if err != nil {
		h.logger.Error("tx lookup for reply failed", "chat_id", chatID, "error", err)
		return
	}
	if !ok {
		h.reply(ctx, chatID, "I can't find the transaction behind that message, so nothing was changed.")
		return
	}

	client := h.clientFor(settings.Token)
	var update lunch.TransactionUpdate
	isNotes := false
	if tags, allTags := parseTagList(text); allTags {
		update.Tags = tags
	} else {
		notes := truncateRunes(text, maxNoteLength)
		update.Notes = &notes
		isNotes = true
	}

	if err := client.UpdateTransaction(ctx, txID, update); err != nil {
		h.logger.Error("apply reply failed", "chat_id", chatID, "tx_id", txID, "error", err)
		h.reply(ctx, chatID, "Could not update the transaction. Try again.")
		return
	}
	if err := h.transport.SetMessageReaction(ctx, chatID, msg.MessageID, "✍"); err != nil {
		h.logger.Debug("reaction failed", "chat_id", chatID, "error", err)
	}

	if isNotes && settings.AutoCategorizeAfterNotes {
		if _, err := h.aiCategorize(ctx, client, chatID, txID, settings); err != nil {
			h.logger.Warn("auto categorize after notes failed", "chat_id", chatID, "tx_id", txID, "error", err)
		}
	}

	h.refreshTransactionMessage(ctx, client, chatID, msg.ReplyToMessage.MessageID, txID)
}

// parseTagList reports whether every whitespace-separated word is a #tag and
// returns the tag names without the marker.
func parseTagList(text string) ([]string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, false
	}
	tags := make([]string, 0, len(fields))
	for _, field := range fields {
		if !strings.HasPrefix(field, "#") || len(field) == 1 {
			return nil, false
		}
		tags = append(tags, strings.TrimPrefix(field, "#"))
	}
	return tags, true
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func (h *Handler) refreshTransactionMessage(ctx context.Context, client Ledger, chatID, messageID, txID int64) {
	tx, err := client.GetTransaction(ctx, txID)
	if err != nil {
		h.logger.Warn("refetch transaction failed", "chat_id", chatID, "tx_id", txID, "error", err)
		return
	}
	if err := h.transport.UpdateTransactionMessage(ctx, chatID, messageID, tx); err != nil {
		h.logger.Warn("refresh message failed", "chat_id", chatID, "tx_id", txID, "error", err)
	}
}
