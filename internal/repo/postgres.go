package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore provides access to a Postgres database.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres opens a new connection pool to the database.
func NewPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		logger: logger.With("component", "store_postgres"),
	}

	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RunMigrations applies the Postgres dialect migrations.
func (s *PostgresStore) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return ApplyMigrations(ctx, s.pool, filesystem)
}

// -- Settings --

func (s *PostgresStore) SaveToken(ctx context.Context, chatID int64, token string) error {
	const q = `
INSERT INTO settings (chat_id, token, token_state)
VALUES ($1, $2, 'active')
ON CONFLICT (chat_id) DO UPDATE SET
    token = EXCLUDED.token,
    token_state = 'active';
`
	if _, err := s.pool.Exec(ctx, q, chatID, token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSettings(ctx context.Context, chatID int64) (*Settings, error) {
	const q = `
SELECT chat_id, token, token_state, poll_interval_secs, created_at, last_poll_at,
       auto_mark_reviewed, poll_pending, mark_reviewed_after_categorized, auto_categorize_after_notes
FROM settings
WHERE chat_id = $1
LIMIT 1;
`
	row := s.pool.QueryRow(ctx, q, chatID)
	var st Settings
	err := row.Scan(&st.ChatID, &st.Token, &st.TokenState, &st.PollIntervalSecs, &st.CreatedAt, &st.LastPollAt,
		&st.AutoMarkReviewed, &st.PollPending, &st.MarkReviewedAfterCategorized, &st.AutoCategorizeAfterNotes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return &st, nil
}

func (s *PostgresStore) AllRegisteredChats(ctx context.Context) ([]int64, error) {
	const q = `SELECT chat_id FROM settings ORDER BY created_at ASC;`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list registered chats: %w", err)
	}
	defer rows.Close()

	var chats []int64
	for rows.Next() {
		var chatID int64
		if err := rows.Scan(&chatID); err != nil {
			return nil, fmt.Errorf("scan chat id: %w", err)
		}
		chats = append(chats, chatID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registered chats: %w", err)
	}
	return chats, nil
}

func (s *PostgresStore) updateSettingsField(ctx context.Context, chatID int64, field string, value any) error {
	q := fmt.Sprintf(`UPDATE settings SET %s = $1 WHERE chat_id = $2`, field)
	ct, err := s.pool.Exec(ctx, q, value, chatID)
	if err != nil {
		return fmt.Errorf("update settings %s: %w", field, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("settings not found for chat %d", chatID)
	}
	return nil
}

func (s *PostgresStore) UpdatePollInterval(ctx context.Context, chatID int64, intervalSecs int) error {
	return s.updateSettingsField(ctx, chatID, "poll_interval_secs", intervalSecs)
}

func (s *PostgresStore) UpdateLastPollAt(ctx context.Context, chatID int64, at time.Time) error {
	return s.updateSettingsField(ctx, chatID, "last_poll_at", at.UTC())
}

func (s *PostgresStore) UpdateAutoMarkReviewed(ctx context.Context, chatID int64, enabled bool) error {
	return s.updateSettingsField(ctx, chatID, "auto_mark_reviewed", enabled)
}

func (s *PostgresStore) UpdatePollPending(ctx context.Context, chatID int64, enabled bool) error {
	return s.updateSettingsField(ctx, chatID, "poll_pending", enabled)
}

func (s *PostgresStore) UpdateMarkReviewedAfterCategorized(ctx context.Context, chatID int64, enabled bool) error {
	return s.updateSettingsField(ctx, chatID, "mark_reviewed_after_categorized", enabled)
}

func (s *PostgresStore) UpdateAutoCategorizeAfterNotes(ctx context.Context, chatID int64, enabled bool) error {
	return s.updateSettingsField(ctx, chatID, "auto_categorize_after_notes", enabled)
}

func (s *PostgresStore) SetTokenState(ctx context.Context, chatID int64, state string) error {
	if state != TokenStateActive && state != TokenStateRevoked {
		return fmt.Errorf("invalid token state %q", state)
	}
	return s.updateSettingsField(ctx, chatID, "token_state", state)
}

// -- Sent transactions --

func (s *PostgresStore) MarkAsSent(ctx context.Context, rec SentTransaction) (*SentTransaction, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	const q = `
INSERT INTO sent_transactions (id, chat_id, tx_id, plaid_id, message_id, pending, reviewed_at, recurring_type)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING created_at;
`
	row := s.pool.QueryRow(ctx, q,
		rec.ID,
		rec.ChatID,
		rec.TxID,
		rec.PlaidID,
		rec.MessageID,
		rec.Pending,
		rec.ReviewedAt,
		rec.RecurringType,
	)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		return nil, fmt.Errorf("mark as sent: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) WasAlreadySent(ctx context.Context, txID int64) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM sent_transactions WHERE tx_id = $1);`
	var exists bool
	if err := s.pool.QueryRow(ctx, q, txID).Scan(&exists); err != nil {
		return false, fmt.Errorf("was already sent: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) GetSentSince(ctx context.Context, chatID int64, since time.Time) ([]SentTransaction, error) {
	const q = `
SELECT id, chat_id, tx_id, plaid_id, message_id, pending, created_at, reviewed_at, recurring_type
FROM sent_transactions
WHERE chat_id = $1 AND created_at >= $2
ORDER BY created_at ASC;
`
	rows, err := s.pool.Query(ctx, q, chatID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("get sent since: %w", err)
	}
	defer rows.Close()

	var records []SentTransaction
	for rows.Next() {
		var rec SentTransaction
		if err := rows.Scan(&rec.ID, &rec.ChatID, &rec.TxID, &rec.PlaidID, &rec.MessageID, &rec.Pending, &rec.CreatedAt, &rec.ReviewedAt, &rec.RecurringType); err != nil {
			return nil, fmt.Errorf("scan sent transaction: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sent transactions: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) GetTxForMessage(ctx context.Context, messageID, chatID int64) (int64, bool, error) {
	const q = `
SELECT tx_id FROM sent_transactions
WHERE message_id = $1 AND chat_id = $2
LIMIT 1;
`
	var txID int64
	err := s.pool.QueryRow(ctx, q, messageID, chatID).Scan(&txID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get tx for message: %w", err)
	}
	return txID, true, nil
}

// UpdateTxIDsByPlaidID rewrites the ledger and plaid identifiers of a sent
// record in place, keyed on the OLD plaid id.
func (s *PostgresStore) UpdateTxIDsByPlaidID(ctx context.Context, oldPlaidID string, newTxID int64, newPlaidID *string) (bool, error) {
	const q = `
UPDATE sent_transactions
SET tx_id = $1, plaid_id = $2
WHERE plaid_id = $3;
`
	ct, err := s.pool.Exec(ctx, q, newTxID, newPlaidID, oldPlaidID)
	if err != nil {
		return false, fmt.Errorf("update tx ids by plaid id: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (s *PostgresStore) MarkReviewed(ctx context.Context, messageID, chatID int64) error {
	const q = `UPDATE sent_transactions SET reviewed_at = NOW() WHERE message_id = $1 AND chat_id = $2;`
	if _, err := s.pool.Exec(ctx, q, messageID, chatID); err != nil {
		return fmt.Errorf("mark reviewed: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkUnreviewed(ctx context.Context, messageID, chatID int64) error {
	const q = `UPDATE sent_transactions SET reviewed_at = NULL WHERE message_id = $1 AND chat_id = $2;`
	if _, err := s.pool.Exec(ctx, q, messageID, chatID); err != nil {
		return fmt.Errorf("mark unreviewed: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkReviewedByTxID(ctx context.Context, txID, chatID int64) error {
	const q = `UPDATE sent_transactions SET reviewed_at = NOW() WHERE tx_id = $1 AND chat_id = $2;`
	if _, err := s.pool.Exec(ctx, q, txID, chatID); err != nil {
		return fmt.Errorf("mark reviewed by tx id: %w", err)
	}
	return nil
}

// -- Chat reset --

// Nuke removes everything stored for the chat, credential and sent history
// alike.
func (s *PostgresStore) Nuke(ctx context.Context, chatID int64) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM sent_transactions WHERE chat_id = $1;`, chatID); err != nil {
			return fmt.Errorf("nuke delete transactions: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM settings WHERE chat_id = $1;`, chatID); err != nil {
			return fmt.Errorf("nuke delete settings: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("chat data deleted", "chat_id", chatID)
	return nil
}

// Logout forgets the credential but keeps the sent history so a re-registered
// chat does not get old transactions announced again.
func (s *PostgresStore) Logout(ctx context.Context, chatID int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM settings WHERE chat_id = $1;`, chatID); err != nil {
		return fmt.Errorf("logout chat %d: %w", chatID, err)
	}
	return nil
}
