package llm

import (
	"fmt"
	"strings"
	"unicode"

	"ledgerbot/internal/lunch"
)

// BuildCategoryPrompt assembles the category-suggestion prompt from a
// transaction and the available categories. The model is instructed to reply
// with a bare category id.
func BuildCategoryPrompt(tx *lunch.Transaction, categories []lunch.Category) string {
	var b strings.Builder
	b.WriteString("This is the transaction information:\n")
	b.WriteString(transactionInput(tx))
	b.WriteString("\nWhat of the following categories would you suggest for this transaction?\n\n")
	b.WriteString("Respond with the ID of the category, and only the ID.\n\n")
	b.WriteString("These are the available categories (using the format `ID:Category Name`):\n\n")
	b.WriteString(categoriesInput(categories))
	b.WriteString("\nRemember to ONLY RESPOND with the ID, and nothing else.\n")
	return b.String()
}

func transactionInput(tx *lunch.Transaction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Payee: %s\n", tx.Payee)
	fmt.Fprintf(&b, "Amount: %s %s\n", tx.Amount, tx.Currency)
	if tx.Plaid != nil {
		if tx.Plaid.MerchantName != nil {
			fmt.Fprintf(&b, "merchant_name: %s\n", *tx.Plaid.MerchantName)
		}
		if tx.Plaid.Name != nil {
			fmt.Fprintf(&b, "name: %s\n", *tx.Plaid.Name)
		}
	}
	if tx.Notes != "" {
		fmt.Fprintf(&b, "notes: %s\n", tx.Notes)
	}
	return b.String()
}

// categoriesInput flattens the category tree to one `id:name` line per
// assignable category. Subcategories carry their parent group's name; group
// rows themselves are not assignable.
func categoriesInput(categories []lunch.Category) string {
	var lines []string
	for _, category := range categories {
		if len(category.Children) > 0 {
			for _, sub := range category.Children {
				lines = append(lines, fmt.Sprintf("%d:%s (%s)", sub.ID, removeEmojis(sub.Name), removeEmojis(category.Name)))
			}
		} else if category.GroupID == nil && !category.IsGroup {
			lines = append(lines, fmt.Sprintf("%d:%s", category.ID, removeEmojis(category.Name)))
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

func removeEmojis(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r > unicode.MaxASCII && !unicode.IsLetter(r) && !unicode.IsNumber(r) &&
			!unicode.IsPunct(r) && !unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
