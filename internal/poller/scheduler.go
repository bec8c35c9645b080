package poller

import (
	"context"
	"log/slog"
	"time"

	"ledgerbot/internal/repo"
)

// Scheduler drives periodic polling passes across registered chats.
type Scheduler struct {
	poller   *Poller
	store    Store
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
}

// NewScheduler creates a scheduler ticking at the given interval.
func NewScheduler(p *Poller, store Store, logger *slog.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		poller:   p,
		store:    store,
		logger:   logger.With("component", "scheduler"),
		interval: interval,
		now:      time.Now,
	}
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduling pass over every registered chat.
func (s *Scheduler) Tick(ctx context.Context) {
	chats, err := s.store.AllRegisteredChats(ctx)
	if err != nil {
		s.logger.Error("list registered chats failed", "error", err)
		return
	}
	for _, chatID := range chats {
		if ctx.Err() != nil {
			return
		}
		s.pollIfDue(ctx, chatID)
	}
}

func (s *Scheduler) pollIfDue(ctx context.Context, chatID int64) {
	settings, err := s.store.GetSettings(ctx, chatID)
	if err != nil {
		s.logger.Error("load settings failed", "chat_id", chatID, "error", err)
		return
	}
	if settings == nil || settings.TokenState != repo.TokenStateActive {
		return
	}
	if !due(settings, s.now()) {
		return
	}

	if err := s.poller.RunPollingPass(ctx, chatID); err != nil {
		s.logger.Error("polling pass failed", "chat_id", chatID, "error", err)
	}
	// The poll moment is stamped regardless of outcome so a failing chat
	// waits a full interval before retrying.
	if err := s.store.UpdateLastPollAt(ctx, chatID, s.now()); err != nil {
		s.logger.Error("stamp last poll failed", "chat_id", chatID, "error", err)
	}
}

// due reports whether the chat should poll now. Interval zero disables
// polling entirely; a chat that never polled is immediately due.
func due(settings *repo.Settings, now time.Time) bool {
	if settings.PollIntervalSecs == 0 {
		return false
	}
	if settings.LastPollAt == nil {
		return true
	}
	return now.Sub(*settings.LastPollAt) >= time.Duration(settings.PollIntervalSecs)*time.Second
}
