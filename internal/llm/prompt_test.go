package llm

import (
	"strings"
	"testing"

	"ledgerbot/internal/lunch"
)

func int64Ptr(n int64) *int64 { return &n }

func TestBuildCategoryPromptFlattensGroups(t *testing.T) {
	tx := &lunch.Transaction{
		Payee:    "Corner Store",
		Amount:   "14.20",
		Currency: "usd",
	}
	categories := []lunch.Category{
		{
			ID:      1,
			Name:    "Food 🍔",
			IsGroup: true,
			Children: []lunch.Category{
				{ID: 11, Name: "Groceries 🛒", GroupID: int64Ptr(1)},
				{ID: 12, Name: "Restaurants", GroupID: int64Ptr(1)},
			},
		},
		{ID: 2, Name: "Transport"},
	}

	prompt := BuildCategoryPrompt(tx, categories)

	if !strings.Contains(prompt, "Payee: Corner Store") {
		t.Fatalf("payee missing from prompt:\n%s", prompt)
	}
	if !strings.Contains(prompt, "11:Groceries (Food)") {
		t.Fatalf("subcategory line missing or emoji kept:\n%s", prompt)
	}
	if !strings.Contains(prompt, "12:Restaurants (Food)") {
		t.Fatalf("second subcategory missing:\n%s", prompt)
	}
	if !strings.Contains(prompt, "2:Transport") {
		t.Fatalf("top-level category missing:\n%s", prompt)
	}
	if strings.Contains(prompt, "🍔") || strings.Contains(prompt, "🛒") {
		t.Fatalf("emoji leaked into prompt:\n%s", prompt)
	}
	if !strings.Contains(prompt, "ONLY RESPOND with the ID") {
		t.Fatalf("instruction missing:\n%s", prompt)
	}
}

func TestBuildCategoryPromptIncludesPlaidHints(t *testing.T) {
	merchant := "CORNER STORE LLC"
	tx := &lunch.Transaction{
		Payee:    "Corner Store",
		Amount:   "14.20",
		Currency: "usd",
		Notes:    "snacks",
		Plaid:    &lunch.PlaidMetadata{MerchantName: &merchant},
	}

	prompt := BuildCategoryPrompt(tx, nil)

	if !strings.Contains(prompt, "merchant_name: CORNER STORE LLC") {
		t.Fatalf("merchant hint missing:\n%s", prompt)
	}
	if !strings.Contains(prompt, "notes: snacks") {
		t.Fatalf("notes hint missing:\n%s", prompt)
	}
}

func TestRemoveEmojis(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Groceries 🛒", "Groceries"},
		{"Café", "Café"},
		{"Plain", "Plain"},
	}
	for _, tc := range cases {
		if got := removeEmojis(tc.in); got != tc.want {
			t.Fatalf("removeEmojis(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
