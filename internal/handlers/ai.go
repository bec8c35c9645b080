package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"ledgerbot/internal/llm"
	"ledgerbot/internal/lunch"
	"ledgerbot/internal/repo"
)

// aiCategorize asks the model to pick a category for the transaction and
// applies it, returning the chosen category name.
func (h *Handler) aiCategorize(ctx context.Context, client Ledger, chatID, txID int64, settings *repo.Settings) (string, error) {
	if h.llm == nil {
		return "", fmt.Errorf("ai categorization is not configured")
	}

	tx, err := client.GetTransaction(ctx, txID)
	if err != nil {
		return "", fmt.Errorf("fetch transaction: %w", err)
	}
	categories, err := client.ListCategories(ctx)
	if err != nil {
		return "", fmt.Errorf("list categories: %w", err)
	}

	reply, err := h.llm.SuggestCategory(ctx, llm.BuildCategoryPrompt(tx, categories))
	if err != nil {
		return "", fmt.Errorf("suggest category: %w", err)
	}
	categoryID, err := parseCategoryID(reply)
	if err != nil {
		return "", err
	}
	name, ok := findAssignableCategory(categories, categoryID)
	if !ok {
		return "", fmt.Errorf("model picked unknown category %d", categoryID)
	}

	update := lunch.TransactionUpdate{CategoryID: &categoryID}
	if settings.MarkReviewedAfterCategorized {
		status := lunch.StatusCleared
		update.Status = &status
	}
	if err := client.UpdateTransaction(ctx, txID, update); err != nil {
		return "", fmt.Errorf("apply category: %w", err)
	}
	if settings.MarkReviewedAfterCategorized {
		if err := h.store.MarkReviewedByTxID(ctx, txID, chatID); err != nil {
			h.logger.Warn("stamp reviewed record failed", "chat_id", chatID, "tx_id", txID, "error", err)
		}
	}
	return name, nil
}

// parseCategoryID extracts the id from the model reply, tolerating stray
// quoting or prose around the number.
func parseCategoryID(reply string) (int64, error) {
	trimmed := strings.TrimSpace(strings.Trim(reply, "`\"'."))
	if id, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return id, nil
	}
	for _, field := range strings.Fields(trimmed) {
		cleaned := strings.Trim(field, "`\"'.,:")
		if id, err := strconv.ParseInt(cleaned, 10, 64); err == nil {
			return id, nil
		}
	}
	return 0, fmt.Errorf("no category id in model reply %q", reply)
}

// findAssignableCategory resolves an id to a leaf category name. Group rows
// are not assignable.
func findAssignableCategory(categories []lunch.Category, id int64) (string, bool) {
	for _, category := range categories {
		if len(category.Children) > 0 {
			for _, sub := range category.Children {
				if sub.ID == id {
					return sub.Name, true
				}
			}
			continue
		}
		if category.ID == id && !category.IsGroup {
			return category.Name, true
		}
	}
	return "", false
}
