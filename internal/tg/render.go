package tg

import (
	"fmt"
	"strings"

	"ledgerbot/internal/lunch"
)

// Callback data prefixes shared with the handlers package. The suffix after
// the underscore is the ledger transaction id.
const (
	CBExpand           = "expand"
	CBCollapse         = "collapse"
	CBReview           = "review"
	CBUnreview         = "unreview"
	CBCategorize       = "categorize"
	CBSubcategorize    = "subcategorize"
	CBApplyCategory    = "applyCategory"
	CBCancelCategorize = "cancelCategorize"
	CBAICategorize     = "aiCategorize"
	CBPlaidDetails     = "plaidDetails"
	CBSkip             = "skip"
)

// CallbackData joins a prefix with id parts.
func CallbackData(prefix string, ids ...int64) string {
	parts := make([]string, 0, len(ids)+1)
	parts = append(parts, prefix)
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%d", id))
	}
	return strings.Join(parts, "_")
}

// RenderTransaction formats a transaction for a chat message.
func RenderTransaction(tx *lunch.Transaction) string {
	var b strings.Builder

	status := "🆕 Unreviewed"
	if tx.IsPending {
		status = "⏳ Pending"
	} else if tx.Status == lunch.StatusCleared {
		status = "✅ Reviewed"
	}

	fmt.Fprintf(&b, "*%s*\n", escapeMarkdown(payeeOrFallback(tx)))
	fmt.Fprintf(&b, "Amount: `%s %s`\n", tx.Amount, tx.Currency)
	fmt.Fprintf(&b, "Date: `%s`\n", tx.Date)
	if tx.CategoryName != "" {
		fmt.Fprintf(&b, "Category: %s\n", escapeMarkdown(tx.CategoryName))
	}
	if tx.RecurringType != nil && *tx.RecurringType != "" {
		fmt.Fprintf(&b, "Recurring: %s\n", escapeMarkdown(*tx.RecurringType))
	}
	if tx.Notes != "" {
		fmt.Fprintf(&b, "Notes: _%s_\n", escapeMarkdown(tx.Notes))
	}
	if len(tx.Tags) > 0 {
		tags := make([]string, 0, len(tx.Tags))
		for _, tag := range tx.Tags {
			tags = append(tags, "#"+tag.Name)
		}
		fmt.Fprintf(&b, "Tags: %s\n", escapeMarkdown(strings.Join(tags, " ")))
	}
	fmt.Fprintf(&b, "\n%s", status)

	return b.String()
}

func payeeOrFallback(tx *lunch.Transaction) string {
	if tx.Payee != "" {
		return tx.Payee
	}
	if tx.Plaid != nil && tx.Plaid.MerchantName != nil && *tx.Plaid.MerchantName != "" {
		return *tx.Plaid.MerchantName
	}
	return "Unknown payee"
}

// TransactionKeyboard builds the inline keyboard for a transaction message.
// Collapsed mode shows a single expand button; expanded mode shows the full
// action set.
func TransactionKeyboard(tx *lunch.Transaction, collapsed bool) *InlineKeyboardMarkup {
	kbd := &Keyboard{}
	if collapsed {
		kbd.Add("Show options", CallbackData(CBExpand, tx.ID))
		return kbd.Build(1)
	}

	if tx.Status == lunch.StatusCleared {
		kbd.Add("Mark unreviewed", CallbackData(CBUnreview, tx.ID))
	} else {
		kbd.Add("Mark reviewed", CallbackData(CBReview, tx.ID))
	}
	kbd.Add("Categorize", CallbackData(CBCategorize, tx.ID))
	kbd.Add("AI categorize", CallbackData(CBAICategorize, tx.ID))
	if tx.Plaid != nil {
		kbd.Add("Plaid details", CallbackData(CBPlaidDetails, tx.ID))
	}
	kbd.Add("Skip", CallbackData(CBSkip, tx.ID))
	kbd.Add("Collapse", CallbackData(CBCollapse, tx.ID))
	return kbd.Build(2)
}

// RenderPlaidDetails formats the typed plaid metadata fields for display.
func RenderPlaidDetails(txID int64, meta *lunch.PlaidMetadata) string {
	var b strings.Builder
	b.WriteString("*Plaid Metadata*\n\n")
	fmt.Fprintf(&b, "*Transaction ID:* %d\n", txID)
	if meta == nil {
		b.WriteString("_no plaid metadata_\n")
		return b.String()
	}
	writeField := func(name string, value *string) {
		if value != nil && *value != "" {
			fmt.Fprintf(&b, "*%s:* `%s`\n", name, *value)
		}
	}
	writeField("transaction_id", meta.TransactionID)
	writeField("pending_transaction_id", meta.PendingTransactionID)
	writeField("merchant_name", meta.MerchantName)
	writeField("name", meta.Name)
	writeField("authorized_datetime", meta.AuthorizedDatetime)
	return b.String()
}

func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"`", "\\`",
		"[", "\\[",
	)
	return replacer.Replace(s)
}
