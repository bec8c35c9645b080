package handlers

import (
	"context"
	"fmt"
	"strconv"

	"ledgerbot/internal/repo"
	"ledgerbot/internal/tg"
)

// Settings callback prefixes. Unlike transaction callbacks these carry no
// transaction id; the chat id comes from the callback message.
const (
	cbPollInterval  = "pollInterval"
	cbToggle        = "toggle"
	cbSettingsBack  = "settingsBack"
	cbSettingsClose = "settingsClose"
	cbLogout        = "logout"
	cbLogoutConfirm = "logoutConfirm"
	cbNuke          = "nuke"
	cbNukeConfirm   = "nukeConfirm"
)

const (
	toggleAutoMark     = "autoMark"
	togglePollPending  = "pollPending"
	toggleMarkAfterCat = "markAfterCat"
	toggleAutoCatNotes = "autoCatNotes"
)

var pollIntervalPresets = []struct {
	label string
	secs  int
}{
	{"5m", 300},
	{"30m", 1800},
	{"1h", 3600},
	{"4h", 14400},
	{"24h", 86400},
	{"Off", 0},
}

func isSettingsCallback(prefix string) bool {
	switch prefix {
	case cbPollInterval, cbToggle, cbSettingsBack, cbSettingsClose,
		cbLogout, cbLogoutConfirm, cbNuke, cbNukeConfirm:
		return true
	}
	return false
}

func (h *Handler) cmdSettings(ctx context.Context, chatID int64) {
	settings := h.chatSettings(ctx, chatID)
	if settings == nil {
		h.reply(ctx, chatID, "Send me your Lunch Money API token first.")
		return
	}
	_, err := h.transport.SendMessage(ctx, chatID, settingsText(settings), &tg.SendOptions{
		ParseMode:   "Markdown",
		ReplyMarkup: settingsKeyboard(settings),
	})
	if err != nil {
		h.logger.Error("send settings failed", "chat_id", chatID, "error", err)
	}
}

func (h *Handler) handleSettingsCallback(ctx context.Context, cq *tg.CallbackQuery, parts []string) {
	chatID := cq.Message.Chat.ID
	messageID := cq.Message.MessageID

	settings := h.chatSettings(ctx, chatID)
	if settings == nil {
		h.answer(ctx, cq.ID, "Send me your Lunch Money API token first.", true)
		return
	}

	switch parts[0] {
	case cbPollInterval:
		secs, err := callbackInt(parts, 1)
		if err != nil {
			return
		}
		if err := h.store.UpdatePollInterval(ctx, chatID, int(secs)); err != nil {
			h.logger.Error("update poll interval failed", "chat_id", chatID, "error", err)
			h.answer(ctx, cq.ID, "Could not save the setting.", true)
			return
		}
		settings.PollIntervalSecs = int(secs)
	case cbToggle:
		if len(parts) < 2 {
			return
		}
		if !h.applyToggle(ctx, chatID, settings, parts[1]) {
			h.answer(ctx, cq.ID, "Could not save the setting.", true)
			return
		}
	case cbSettingsClose:
		if err := h.transport.DeleteMessage(ctx, chatID, messageID); err != nil {
			h.logger.Debug("close settings failed", "chat_id", chatID, "error", err)
		}
		h.answer(ctx, cq.ID, "", false)
		return
	case cbLogout:
		h.editSettings(ctx, chatID, messageID,
			"Forget your API token? Sent transaction history is kept.",
			confirmKeyboard(cbLogoutConfirm))
		h.answer(ctx, cq.ID, "", false)
		return
	case cbLogoutConfirm:
		if err := h.store.Logout(ctx, chatID); err != nil {
			h.logger.Error("logout failed", "chat_id", chatID, "error", err)
			h.answer(ctx, cq.ID, "Could not log out.", true)
			return
		}
		h.editSettings(ctx, chatID, messageID, "Token forgotten. Send a new one any time to resume.", nil)
		h.answer(ctx, cq.ID, "Logged out", false)
		return
	case cbNuke:
		h.editSettings(ctx, chatID, messageID,
			"Delete EVERYTHING for this chat, token and transaction history? This cannot be undone.",
			confirmKeyboard(cbNukeConfirm))
		h.answer(ctx, cq.ID, "", false)
		return
	case cbNukeConfirm:
		if err := h.store.Nuke(ctx, chatID); err != nil {
			h.logger.Error("nuke failed", "chat_id", chatID, "error", err)
			h.answer(ctx, cq.ID, "Could not delete the data.", true)
			return
		}
		h.editSettings(ctx, chatID, messageID, "All data for this chat is gone.", nil)
		h.answer(ctx, cq.ID, "Deleted", false)
		return
	case cbSettingsBack:
		// Fall through to the re-render below.
	default:
		return
	}

	h.editSettings(ctx, chatID, messageID, settingsText(settings), settingsKeyboard(settings))
	h.answer(ctx, cq.ID, "", false)
}

func (h *Handler) applyToggle(ctx context.Context, chatID int64, settings *repo.Settings, field string) bool {
	var err error
	switch field {
	case toggleAutoMark:
		settings.AutoMarkReviewed = !settings.AutoMarkReviewed
		err = h.store.UpdateAutoMarkReviewed(ctx, chatID, settings.AutoMarkReviewed)
	case togglePollPending:
		settings.PollPending = !settings.PollPending
		err = h.store.UpdatePollPending(ctx, chatID, settings.PollPending)
	case toggleMarkAfterCat:
		settings.MarkReviewedAfterCategorized = !settings.MarkReviewedAfterCategorized
		err = h.store.UpdateMarkReviewedAfterCategorized(ctx, chatID, settings.MarkReviewedAfterCategorized)
	case toggleAutoCatNotes:
		settings.AutoCategorizeAfterNotes = !settings.AutoCategorizeAfterNotes
		err = h.store.UpdateAutoCategorizeAfterNotes(ctx, chatID, settings.AutoCategorizeAfterNotes)
	default:
		return false
	}
	if err != nil {
		h.logger.Error("save toggle failed", "chat_id", chatID, "field", field, "error", err)
		return false
	}
	return true
}

func (h *Handler) editSettings(ctx context.Context, chatID, messageID int64, text string, markup *tg.InlineKeyboardMarkup) {
	err := h.transport.EditMessageText(ctx, chatID, messageID, text, &tg.SendOptions{
		ParseMode:   "Markdown",
		ReplyMarkup: markup,
	})
	if err != nil {
		h.logger.Warn("edit settings message failed", "chat_id", chatID, "error", err)
	}
}

func settingsText(settings *repo.Settings) string {
	interval := "off"
	for _, preset := range pollIntervalPresets {
		if preset.secs == settings.PollIntervalSecs && preset.secs != 0 {
			interval = preset.label
		}
	}
	if interval == "off" && settings.PollIntervalSecs > 0 {
		interval = fmt.Sprintf("%ds", settings.PollIntervalSecs)
	}

	return fmt.Sprintf(
		"*Settings*\n\n"+
			"Poll interval: `%s`\n"+
			"Poll pending transactions: %s\n"+
			"Auto-mark posted as reviewed: %s\n"+
			"Mark reviewed after categorizing: %s\n"+
			"AI-categorize after notes: %s",
		interval,
		onOff(settings.PollPending),
		onOff(settings.AutoMarkReviewed),
		onOff(settings.MarkReviewedAfterCategorized),
		onOff(settings.AutoCategorizeAfterNotes),
	)
}

func onOff(v bool) string {
	if v {
		return "✅"
	}
	return "❌"
}

func settingsKeyboard(settings *repo.Settings) *tg.InlineKeyboardMarkup {
	markup := &tg.InlineKeyboardMarkup{}

	var intervalRow []tg.InlineKeyboardButton
	for _, preset := range pollIntervalPresets {
		label := preset.label
		if preset.secs == settings.PollIntervalSecs {
			label = "• " + label
		}
		intervalRow = append(intervalRow, tg.InlineKeyboardButton{
			Text:         label,
			CallbackData: cbPollInterval + "_" + strconv.Itoa(preset.secs),
		})
	}
	markup.InlineKeyboard = append(markup.InlineKeyboard, intervalRow)

	toggles := []struct {
		label string
		field string
		on    bool
	}{
		{"Poll pending", togglePollPending, settings.PollPending},
		{"Auto-review posted", toggleAutoMark, settings.AutoMarkReviewed},
		{"Review after categorize", toggleMarkAfterCat, settings.MarkReviewedAfterCategorized},
		{"AI-categorize after notes", toggleAutoCatNotes, settings.AutoCategorizeAfterNotes},
	}
	for _, toggle := range toggles {
		markup.InlineKeyboard = append(markup.InlineKeyboard, []tg.InlineKeyboardButton{{
			Text:         onOff(toggle.on) + " " + toggle.label,
			CallbackData: cbToggle + "_" + toggle.field,
		}})
	}

	markup.InlineKeyboard = append(markup.InlineKeyboard, []tg.InlineKeyboardButton{
		{Text: "Log out", CallbackData: cbLogout},
		{Text: "Delete all data", CallbackData: cbNuke},
	})
	markup.InlineKeyboard = append(markup.InlineKeyboard, []tg.InlineKeyboardButton{
		{Text: "Close", CallbackData: cbSettingsClose},
	})
	return markup
}

func confirmKeyboard(confirmData string) *tg.InlineKeyboardMarkup {
	return &tg.InlineKeyboardMarkup{InlineKeyboard: [][]tg.InlineKeyboardButton{{
		{Text: "Yes, do it", CallbackData: confirmData},
		{Text: "Back", CallbackData: cbSettingsBack},
	}}}
}
