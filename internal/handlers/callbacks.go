package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"ledgerbot/internal/lunch"
	"ledgerbot/internal/repo"
	"ledgerbot/internal/tg"
)

func (h *Handler) handleCallback(ctx context.Context, cq *tg.CallbackQuery) {
	if cq.Message == nil || cq.Data == "" {
		return
	}
	chatID := cq.Message.Chat.ID
	parts := strings.Split(cq.Data, "_")
	prefix := parts[0]

	if isSettingsCallback(prefix) {
		h.handleSettingsCallback(ctx, cq, parts)
		return
	}

	settings := h.chatSettings(ctx, chatID)
	if settings == nil {
		h.answer(ctx, cq.ID, "Send me your Lunch Money API token first.", true)
		return
	}
	txID, err := callbackInt(parts, 1)
	if err != nil {
		h.logger.Warn("malformed callback data", "chat_id", chatID, "data", cq.Data)
		return
	}
	client := h.clientFor(settings.Token)
	messageID := cq.Message.MessageID

	switch prefix {
	case tg.CBExpand:
		h.swapKeyboard(ctx, client, chatID, messageID, txID, false)
		h.answer(ctx, cq.ID, "", false)
	case tg.CBCollapse, tg.CBCancelCategorize:
		h.swapKeyboard(ctx, client, chatID, messageID, txID, true)
		h.answer(ctx, cq.ID, "", false)
	case tg.CBSkip:
		if err := h.transport.EditMessageReplyMarkup(ctx, chatID, messageID, nil); err != nil {
			h.logger.Warn("remove keyboard failed", "chat_id", chatID, "error", err)
		}
		h.answer(ctx, cq.ID, "Skipped", false)
	case tg.CBReview:
		h.setReviewState(ctx, cq, client, chatID, messageID, txID, true)
	case tg.CBUnreview:
		h.setReviewState(ctx, cq, client, chatID, messageID, txID, false)
	case tg.CBCategorize:
		h.showCategoryGroups(ctx, cq, client, chatID, messageID, txID)
	case tg.CBSubcategorize:
		groupID, err := callbackInt(parts, 2)
		if err != nil {
			return
		}
		h.showSubcategories(ctx, cq, client, chatID, messageID, txID, groupID)
	case tg.CBApplyCategory:
		categoryID, err := callbackInt(parts, 2)
		if err != nil {
			return
		}
		h.applyCategory(ctx, cq, client, settings, chatID, messageID, txID, categoryID)
	case tg.CBAICategorize:
		name, err := h.aiCategorize(ctx, client, chatID, txID, settings)
		if err != nil {
			h.logger.Warn("ai categorize failed", "chat_id", chatID, "tx_id", txID, "error", err)
			h.answer(ctx, cq.ID, "Could not pick a category for this one.", true)
			return
		}
		h.refreshTransactionMessage(ctx, client, chatID, messageID, txID)
		h.answer(ctx, cq.ID, "Categorized as "+name, false)
	case tg.CBPlaidDetails:
		h.showPlaidDetails(ctx, cq, client, chatID, messageID, txID)
	default:
		h.logger.Debug("unhandled callback", "chat_id", chatID, "data", cq.Data)
	}
}

func (h *Handler) swapKeyboard(ctx context.Context, client Ledger, chatID, messageID, txID int64, collapsed bool) {
	tx, err := client.GetTransaction(ctx, txID)
	if err != nil {
		h.logger.Warn("refetch transaction failed", "chat_id", chatID, "tx_id", txID, "error", err)
		return
	}
	if err := h.transport.EditMessageReplyMarkup(ctx, chatID, messageID, tg.TransactionKeyboard(tx, collapsed)); err != nil {
		h.logger.Warn("swap keyboard failed", "chat_id", chatID, "error", err)
	}
}

func (h *Handler) setReviewState(ctx context.Context, cq *tg.CallbackQuery, client Ledger, chatID, messageID, txID int64, reviewed bool) {
	status := lunch.StatusUncleared
	if reviewed {
		status = lunch.StatusCleared
	}
	if err := client.UpdateTransaction(ctx, txID, lunch.TransactionUpdate{Status: &status}); err != nil {
		h.logger.Error("set review state failed", "chat_id", chatID, "tx_id", txID, "error", err)
		h.answer(ctx, cq.ID, "Could not update the transaction.", true)
		return
	}

	var stampErr error
	if reviewed {
		stampErr = h.store.MarkReviewed(ctx, messageID, chatID)
	} else {
		stampErr = h.store.MarkUnreviewed(ctx, messageID, chatID)
	}
	if stampErr != nil {
		h.logger.Warn("stamp review state failed", "chat_id", chatID, "tx_id", txID, "error", stampErr)
	}

	h.refreshTransactionMessage(ctx, client, chatID, messageID, txID)
	if reviewed {
		h.answer(ctx, cq.ID, "Marked as reviewed", false)
	} else {
		h.answer(ctx, cq.ID, "Marked as unreviewed", false)
	}
}

func (h *Handler) showCategoryGroups(ctx context.Context, cq *tg.CallbackQuery, client Ledger, chatID, messageID, txID int64) {
	categories, err := client.ListCategories(ctx)
	if err != nil {
		h.logger.Error("list categories failed", "chat_id", chatID, "error", err)
		h.answer(ctx, cq.ID, "Could not load categories.", true)
		return
	}

	kbd := &tg.Keyboard{}
	for _, category := range categories {
		if category.GroupID != nil {
			continue
		}
		if category.IsGroup {
			kbd.Add(category.Name, tg.CallbackData(tg.CBSubcategorize, txID, category.ID))
		} else {
			kbd.Add(category.Name, tg.CallbackData(tg.CBApplyCategory, txID, category.ID))
		}
	}
	kbd.Add("Cancel", tg.CallbackData(tg.CBCancelCategorize, txID))

	if err := h.transport.EditMessageReplyMarkup(ctx, chatID, messageID, kbd.Build(2)); err != nil {
		h.logger.Warn("show category groups failed", "chat_id", chatID, "error", err)
	}
	h.answer(ctx, cq.ID, "", false)
}

func (h *Handler) showSubcategories(ctx context.Context, cq *tg.CallbackQuery, client Ledger, chatID, messageID, txID, groupID int64) {
	categories, err := client.ListCategories(ctx)
	if err != nil {
		h.logger.Error("list categories failed", "chat_id", chatID, "error", err)
		h.answer(ctx, cq.ID, "Could not load categories.", true)
		return
	}

	kbd := &tg.Keyboard{}
	for _, category := range categories {
		if category.ID != groupID {
			continue
		}
		for _, sub := range category.Children {
			kbd.Add(sub.Name, tg.CallbackData(tg.CBApplyCategory, txID, sub.ID))
		}
	}
	kbd.Add("Back", tg.CallbackData(tg.CBCategorize, txID))
	kbd.Add("Cancel", tg.CallbackData(tg.CBCancelCategorize, txID))

	if err := h.transport.EditMessageReplyMarkup(ctx, chatID, messageID, kbd.Build(2)); err != nil {
		h.logger.Warn("show subcategories failed", "chat_id", chatID, "error", err)
	}
	h.answer(ctx, cq.ID, "", false)
}

func (h *Handler) applyCategory(ctx context.Context, cq *tg.CallbackQuery, client Ledger, settings *repo.Settings, chatID, messageID, txID, categoryID int64) {
	update := lunch.TransactionUpdate{CategoryID: &categoryID}
	if settings.MarkReviewedAfterCategorized {
		status := lunch.StatusCleared
		update.Status = &status
	}
	if err := client.UpdateTransaction(ctx, txID, update); err != nil {
		h.logger.Error("apply category failed", "chat_id", chatID, "tx_id", txID, "error", err)
		h.answer(ctx, cq.ID, "Could not update the category.", true)
		return
	}
	if settings.MarkReviewedAfterCategorized {
		if err := h.store.MarkReviewedByTxID(ctx, txID, chatID); err != nil {
			h.logger.Warn("stamp reviewed record failed", "chat_id", chatID, "tx_id", txID, "error", err)
		}
	}

	h.refreshTransactionMessage(ctx, client, chatID, messageID, txID)
	h.answer(ctx, cq.ID, "Category updated", false)
}

func (h *Handler) showPlaidDetails(ctx context.Context, cq *tg.CallbackQuery, client Ledger, chatID, messageID, txID int64) {
	tx, err := client.GetTransaction(ctx, txID)
	if err != nil {
		h.logger.Warn("refetch transaction failed", "chat_id", chatID, "tx_id", txID, "error", err)
		h.answer(ctx, cq.ID, "Could not load the transaction.", true)
		return
	}
	_, err = h.transport.SendMessage(ctx, chatID, tg.RenderPlaidDetails(txID, tx.Plaid), &tg.SendOptions{
		ParseMode:        "Markdown",
		ReplyToMessageID: messageID,
	})
	if err != nil {
		h.logger.Warn("send plaid details failed", "chat_id", chatID, "error", err)
	}
	h.answer(ctx, cq.ID, "", false)
}

func (h *Handler) answer(ctx context.Context, callbackID, text string, alert bool) {
	if err := h.transport.AnswerCallbackQuery(ctx, callbackID, text, alert); err != nil {
		h.logger.Debug("answer callback failed", "error", err)
	}
}

func callbackInt(parts []string, index int) (int64, error) {
	if index >= len(parts) {
		return 0, errors.New("missing callback part")
	}
	n, err := strconv.ParseInt(parts[index], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse callback part: %w", err)
	}
	return n, nil
}
