package directory

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultPollInterval      = 10 * time.Second
	defaultNotificationLimit = 50
)

// Assigner labels a subject with the current decision.
type Assigner interface {
	AssignSubject(ctx context.Context, subject string) error
}

// AssignFunc adapts a function to Assigner.
type AssignFunc func(ctx context.Context, subject string) error

func (f AssignFunc) AssignSubject(ctx context.Context, subject string) error { return f(ctx, subject) }

// Poller watches the notification feed and assigns new followers and
// likers as they arrive.
type Poller struct {
	client   Client
	assigner Assigner
	interval time.Duration
	limit    int
	logger   *slog.Logger

	lastSeen time.Time
}

func NewPoller(client Client, assigner Assigner, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		client:   client,
		assigner: assigner,
		interval: interval,
		limit:    defaultNotificationLimit,
		logger:   logger.With("component", "poller"),
	}
}

// Run polls until ctx is cancelled. Errors are logged and the next poll
// happens after the normal interval.
//
// Intended to be called as: go poller.Run(ctx)
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.Check(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("poll failed", "err", err, "retry_in", p.interval)
		}
		select {
		case <-ctx.Done():
			p.logger.Info("context cancelled, stopping")
			return
		case <-ticker.C:
		}
	}
}

// Check fetches one page of notifications, assigns the authors of follow
// and like notifications newer than the last seen one, and marks the feed
// seen up to the newest notification.
func (p *Poller) Check(ctx context.Context) error {
	notes, err := p.client.Notifications(ctx, p.limit)
	if err != nil {
		return err
	}

	newest := p.lastSeen
	for _, n := range notes {
		at, err := time.Parse(time.RFC3339Nano, n.IndexedAt)
		if err != nil {
			p.logger.Debug("skipping notification with bad indexedAt", "indexed_at", n.IndexedAt)
			continue
		}
		if at.After(newest) {
			newest = at
		}
		if !p.lastSeen.IsZero() && !at.After(p.lastSeen) {
			continue
		}
		switch n.Reason {
		case "follow", "like":
			if err := p.assigner.AssignSubject(ctx, n.Author.DID); err != nil {
				p.logger.Error("assign from notification", "subject", n.Author.DID, "reason", n.Reason, "err", err)
				continue
			}
			p.logger.Info("assigned from notification", "subject", n.Author.DID, "handle", n.Author.Handle, "reason", n.Reason)
		}
	}

	if newest.After(p.lastSeen) {
		if err := p.client.UpdateSeen(ctx, newest); err != nil {
			return err
		}
		p.lastSeen = newest
	}
	return nil
}
