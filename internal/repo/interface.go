package repo

import (
	"context"
	"io/fs"
	"time"
)

// Store defines the interface for data persistence.
type Store interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Settings
	SaveToken(ctx context.Context, chatID int64, token string) error
	GetSettings(ctx context.Context, chatID int64) (*Settings, error)
	AllRegisteredChats(ctx context.Context) ([]int64, error)
	UpdatePollInterval(ctx context.Context, chatID int64, intervalSecs int) error
	UpdateLastPollAt(ctx context.Context, chatID int64, at time.Time) error
	UpdateAutoMarkReviewed(ctx context.Context, chatID int64, enabled bool) error
	UpdatePollPending(ctx context.Context, chatID int64, enabled bool) error
	UpdateMarkReviewedAfterCategorized(ctx context.Context, chatID int64, enabled bool) error
	UpdateAutoCategorizeAfterNotes(ctx context.Context, chatID int64, enabled bool) error
	SetTokenState(ctx context.Context, chatID int64, state string) error

	// Sent transactions
	MarkAsSent(ctx context.Context, rec SentTransaction) (*SentTransaction, error)
	WasAlreadySent(ctx context.Context, txID int64) (bool, error)
	GetSentSince(ctx context.Context, chatID int64, since time.Time) ([]SentTransaction, error)
	GetTxForMessage(ctx context.Context, messageID, chatID int64) (int64, bool, error)
	UpdateTxIDsByPlaidID(ctx context.Context, oldPlaidID string, newTxID int64, newPlaidID *string) (bool, error)
	MarkReviewed(ctx context.Context, messageID, chatID int64) error
	MarkUnreviewed(ctx context.Context, messageID, chatID int64) error
	MarkReviewedByTxID(ctx context.Context, txID, chatID int64) error

	// Chat reset
	Nuke(ctx context.Context, chatID int64) error
	Logout(ctx context.Context, chatID int64) error
}
