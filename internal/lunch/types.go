package lunch

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Transaction statuses as reported by the ledger.
const (
	StatusCleared   = "cleared"
	StatusUncleared = "uncleared"
)

// PlaidMetadata is the upstream aggregator's metadata attached to a
// transaction. The ledger ships it as a loosely shaped JSON object (sometimes
// double-encoded as a string); only the fields the bot relies on are decoded.
type PlaidMetadata struct {
	TransactionID        *string `json:"transaction_id"`
	PendingTransactionID *string `json:"pending_transaction_id"`
	MerchantName         *string `json:"merchant_name"`
	Name                 *string `json:"name"`
	AuthorizedDatetime   *string `json:"authorized_datetime"`
}

// AuthorizedTime parses the authorized_datetime field. The boolean reports
// whether a usable timestamp was present.
func (p *PlaidMetadata) AuthorizedTime() (time.Time, bool) {
	if p == nil || p.AuthorizedDatetime == nil {
		return time.Time{}, false
	}
	raw := strings.TrimSpace(*p.AuthorizedDatetime)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// Tag is a ledger transaction tag.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Transaction mirrors the ledger's transaction resource. The ledger may
// reassign ID when a pending transaction posts; the plaid metadata carries
// the stable join key across that transition.
type Transaction struct {
	ID            int64
	Date          string
	Amount        string
	Currency      string
	Payee         string
	Status        string
	IsPending     bool
	Notes         string
	CategoryID    *int64
	CategoryName  string
	RecurringType *string
	Tags          []Tag
	Plaid         *PlaidMetadata
}

// UnmarshalJSON tolerates the ledger's inconsistent field encodings: numeric
// ids arriving as strings, amounts as numbers, and plaid metadata either
// inline or double-encoded.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	type alias struct {
		ID            json.RawMessage `json:"id"`
		Date          string          `json:"date"`
		Amount        json.RawMessage `json:"amount"`
		Currency      string          `json:"currency"`
		Payee         string          `json:"payee"`
		Status        string          `json:"status"`
		IsPending     bool            `json:"is_pending"`
		Notes         *string         `json:"notes"`
		CategoryID    *int64          `json:"category_id"`
		CategoryName  *string         `json:"category_name"`
		RecurringType *string         `json:"recurring_type"`
		Tags          []Tag           `json:"tags"`
		Plaid         json.RawMessage `json:"plaid_metadata"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	t.ID = readInt64(a.ID)
	t.Date = a.Date
	t.Amount = readNumberString(a.Amount)
	t.Currency = a.Currency
	t.Payee = a.Payee
	t.Status = strings.ToLower(strings.TrimSpace(a.Status))
	t.IsPending = a.IsPending
	if a.Notes != nil {
		t.Notes = *a.Notes
	}
	t.CategoryID = a.CategoryID
	if a.CategoryName != nil {
		t.CategoryName = *a.CategoryName
	}
	t.RecurringType = a.RecurringType
	t.Tags = a.Tags

	plaid, err := decodePlaidMetadata(a.Plaid)
	if err != nil {
		return err
	}
	t.Plaid = plaid
	return nil
}

func decodePlaidMetadata(raw json.RawMessage) (*PlaidMetadata, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	// Sometimes the object arrives serialized inside a JSON string.
	if strings.HasPrefix(trimmed, `"`) {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, err
		}
		inner = strings.TrimSpace(inner)
		if inner == "" || inner == "null" {
			return nil, nil
		}
		raw = json.RawMessage(inner)
	}
	var meta PlaidMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func readInt64(raw json.RawMessage) int64 {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}

func readNumberString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', 2, 64)
	}
	return ""
}

// TransactionUpdate carries the mutable transaction fields. Nil fields are
// left untouched upstream.
type TransactionUpdate struct {
	Status     *string  `json:"status,omitempty"`
	CategoryID *int64   `json:"category_id,omitempty"`
	Notes      *string  `json:"notes,omitempty"`
	Payee      *string  `json:"payee,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// Category is a ledger category, optionally a group with children.
type Category struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	IsGroup     bool       `json:"is_group"`
	GroupID     *int64     `json:"group_id"`
	Children    []Category `json:"children"`
}

// User describes the ledger account the token belongs to.
type User struct {
	UserName   string `json:"user_name"`
	Email      string `json:"user_email"`
	BudgetName string `json:"budget_name"`
}
