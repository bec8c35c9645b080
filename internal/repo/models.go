package repo

import "time"

// Credential states for chat settings. The token string itself is never
// overloaded with sentinel values.
const (
	TokenStateActive  = "active"
	TokenStateRevoked = "revoked"
)

// SentTransaction records one instance of a ledger transaction having been
// surfaced in a chat. TxID follows the ledger's mutable identifier; PlaidID
// is the upstream-stable identifier used to survive pending-to-posted id
// changes.
type SentTransaction struct {
	ID            string
	ChatID        int64
	TxID          int64
	PlaidID       *string
	MessageID     int64
	Pending       bool
	CreatedAt     time.Time
	ReviewedAt    *time.Time
	RecurringType *string
}

// Settings is the per-chat configuration row.
type Settings struct {
	ChatID           int64
	Token            string
	TokenState       string
	PollIntervalSecs int
	CreatedAt        time.Time
	LastPollAt       *time.Time
	AutoMarkReviewed bool
	PollPending      bool

	MarkReviewedAfterCategorized bool
	AutoCategorizeAfterNotes     bool
}
