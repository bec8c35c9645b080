package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// -- Settings --

func (s *SQLiteStore) SaveToken(ctx context.Context, chatID int64, token string) error {
	const q = `
INSERT INTO settings (chat_id, token, token_state)
VALUES (?, ?, 'active')
ON CONFLICT (chat_id) DO UPDATE SET
    token = excluded.token,
    token_state = 'active';
`
	if _, err := s.db.ExecContext(ctx, q, chatID, token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSettings(ctx context.Context, chatID int64) (*Settings, error) {
	const q = `
SELECT chat_id, token, token_state, poll_interval_secs, created_at, last_poll_at,
       auto_mark_reviewed, poll_pending, mark_reviewed_after_categorized, auto_categorize_after_notes
FROM settings
WHERE chat_id = ?
LIMIT 1;
`
	row := s.db.QueryRowContext(ctx, q, chatID)
	var st Settings
	var lastPoll sql.NullTime
	err := row.Scan(&st.ChatID, &st.Token, &st.TokenState, &st.PollIntervalSecs, &st.CreatedAt, &lastPoll,
		&st.AutoMarkReviewed, &st.PollPending, &st.MarkReviewedAfterCategorized, &st.AutoCategorizeAfterNotes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	if lastPoll.Valid {
		st.LastPollAt = &lastPoll.Time
	}
	return &st, nil
}

func (s *SQLiteStore) AllRegisteredChats(ctx context.Context) ([]int64, error) {
	const q = `SELECT chat_id FROM settings ORDER BY created_at ASC;`
	rows, err := s.db.QueryContext(ctx, q)
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

func (s *SQLiteStore) updateSettingsField(ctx context.Context, chatID int64, field string, value any) error {
	q := fmt.Sprintf(`UPDATE settings SET %s = ? WHERE chat_id = ?`, field)
	ct, err := s.db.ExecContext(ctx, q, value, chatID)
	if err != nil {
		return fmt.Errorf("update settings %s: %w", field, err)
	}
	if n, _ := ct.RowsAffected(); n == 0 {
		return fmt.Errorf("settings not found for chat %d", chatID)
	}
	return nil
}

func (s *SQLiteStore) UpdatePollInterval(ctx context.Context, chatID int64, intervalSecs int) error {
	return s.updateSettingsField(ctx, chatID, "poll_interval_secs", intervalSecs)
}

func (s *SQLiteStore) UpdateLastPollAt(ctx context.Context, chatID int64, at time.Time) error {
	return s.updateSettingsField(ctx, chatID, "last_poll_at", at.UTC())
}

func (s *SQLiteStore) UpdateAutoMarkReviewed(ctx context.Context, chatID int64, enabled bool) error {
	return s.updateSettingsField(ctx, chatID, "auto_mark_reviewed", enabled)
}

func (s *SQLiteStore) UpdatePollPending(ctx context.Context, chatID int64, enabled bool) error {
	return s.updateSettingsField(ctx, chatID, "poll_pending", enabled)
}

func (s *SQLiteStore) UpdateMarkReviewedAfterCategorized(ctx context.Context, chatID int64, enabled bool) error {
	return s.updateSettingsField(ctx, chatID, "mark_reviewed_after_categorized", enabled)
}

func (s *SQLiteStore) UpdateAutoCategorizeAfterNotes(ctx context.Context, chatID int64, enabled bool) error {
	return s.updateSettingsField(ctx, chatID, "auto_categorize_after_notes", enabled)
}

func (s *SQLiteStore) SetTokenState(ctx context.Context, chatID int64, state string) error {
	if state != TokenStateActive && state != TokenStateRevoked {
		return fmt.Errorf("invalid token state %q", state)
	}
	return s.updateSettingsField(ctx, chatID, "token_state", state)
}

// -- Sent transactions --

func (s *SQLiteStore) MarkAsSent(ctx context.Context, rec SentTransaction) (*SentTransaction, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	const q = `
INSERT INTO sent_transactions (id, chat_id, tx_id, plaid_id, message_id, pending, reviewed_at, recurring_type)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING created_at;
`
	row := s.db.QueryRowContext(ctx, q,
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

func (s *SQLiteStore) WasAlreadySent(ctx context.Context, txID int64) (bool, error) {
	const q = `SELECT 1 FROM sent_transactions WHERE tx_id = ? LIMIT 1;`
	var one int
	err := s.db.QueryRowContext(ctx, q, txID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("was already sent: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) GetSentSince(ctx context.Context, chatID int64, since time.Time) ([]SentTransaction, error) {
	const q = `
SELECT id, chat_id, tx_id, plaid_id, message_id, pending, created_at, reviewed_at, recurring_type
FROM sent_transactions
WHERE chat_id = ? AND created_at >= ?
ORDER BY created_at ASC;
`
	rows, err := s.db.QueryContext(ctx, q, chatID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("get sent since: %w", err)
	}
	defer rows.Close()

	var records []SentTransaction
	for rows.Next() {
		rec, err := scanSentTransaction(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sent transactions: %w", err)
	}
	return records, nil
}

func scanSentTransaction(rows *sql.Rows) (*SentTransaction, error) {
	var rec SentTransaction
	var plaidID sql.NullString
	var reviewedAt sql.NullTime
	var recurring sql.NullString
	if err := rows.Scan(&rec.ID, &rec.ChatID, &rec.TxID, &plaidID, &rec.MessageID, &rec.Pending, &rec.CreatedAt, &reviewedAt, &recurring); err != nil {
		return nil, fmt.Errorf("scan sent transaction: %w", err)
	}
	if plaidID.Valid {
		rec.PlaidID = &plaidID.String
	}
	if reviewedAt.Valid {
		rec.ReviewedAt = &reviewedAt.Time
	}
	if recurring.Valid {
		rec.RecurringType = &recurring.String
	}
	return &rec, nil
}

func (s *SQLiteStore) GetTxForMessage(ctx context.Context, messageID, chatID int64) (int64, bool, error) {
	const q = `
SELECT tx_id FROM sent_transactions
WHERE message_id = ? AND chat_id = ?
LIMIT 1;
`
	var txID int64
	err := s.db.QueryRowContext(ctx, q, messageID, chatID).Scan(&txID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get tx for message: %w", err)
	}
	return txID, true, nil
}

// UpdateTxIDsByPlaidID rewrites the ledger and plaid identifiers of a sent
// record in place. The match is keyed on the OLD plaid id: the ledger id is
// exactly what changed across the pending-to-posted transition and must not
// be used as the join key here.
func (s *SQLiteStore) UpdateTxIDsByPlaidID(ctx context.Context, oldPlaidID string, newTxID int64, newPlaidID *string) (bool, error) {
	const q = `
UPDATE sent_transactions
SET tx_id = ?, plaid_id = ?
WHERE plaid_id = ?;
`
	ct, err := s.db.ExecContext(ctx, q, newTxID, newPlaidID, oldPlaidID)
	if err != nil {
		return false, fmt.Errorf("update tx ids by plaid id: %w", err)
	}
	n, _ := ct.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) MarkReviewed(ctx context.Context, messageID, chatID int64) error {
	const q = `
UPDATE sent_transactions
SET reviewed_at = ?
WHERE message_id = ? AND chat_id = ?;
`
	if _, err := s.db.ExecContext(ctx, q, time.Now().UTC(), messageID, chatID); err != nil {
		return fmt.Errorf("mark reviewed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkUnreviewed(ctx context.Context, messageID, chatID int64) error {
	const q = `
UPDATE sent_transactions
SET reviewed_at = NULL
WHERE message_id = ? AND chat_id = ?;
`
	if _, err := s.db.ExecContext(ctx, q, messageID, chatID); err != nil {
		return fmt.Errorf("mark unreviewed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkReviewedByTxID(ctx context.Context, txID, chatID int64) error {
	const q = `
UPDATE sent_transactions
SET reviewed_at = ?
WHERE tx_id = ? AND chat_id = ?;
`
	if _, err := s.db.ExecContext(ctx, q, time.Now().UTC(), txID, chatID); err != nil {
		return fmt.Errorf("mark reviewed by tx id: %w", err)
	}
	return nil
}

// -- Chat reset --

// Nuke removes everything stored for the chat, credential and sent history
// alike.
func (s *SQLiteStore) Nuke(ctx context.Context, chatID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin nuke: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sent_transactions WHERE chat_id = ?;`, chatID); err != nil {
		return fmt.Errorf("nuke delete transactions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM settings WHERE chat_id = ?;`, chatID); err != nil {
		return fmt.Errorf("nuke delete settings: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit nuke: %w", err)
	}
	s.logger.Info("chat data deleted", "chat_id", chatID)
	return nil
}

// Logout forgets the credential but keeps the sent history so a re-registered
// chat does not get old transactions announced again.
func (s *SQLiteStore) Logout(ctx context.Context, chatID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE chat_id = ?;`, chatID); err != nil {
		return fmt.Errorf("logout chat %d: %w", chatID, err)
	}
	return nil
}
