// Package reconcile brings the ledger in line with directory membership:
// the periodic batch assigns current members and revokes departed ones,
// and the migration re-issues every subject's labels under the current
// encoding.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/time/rate"

	"github.com/AgentMesh-Net/labeler-go/internal/labeling"
	"github.com/AgentMesh-Net/labeler-go/internal/ledger"
)

// ErrBusy is returned when a run is requested while another is in progress.
var ErrBusy = errors.New("reconcile: run already in progress")

// Membership lists current members as subject -> handle.
type Membership interface {
	Followers(ctx context.Context) (map[string]string, error)
}

// Gate reports live stream consumers. Migration waits for one before
// broadcasting negations.
type Gate interface {
	SubscriberCount() int
	WaitForSubscribers(ctx context.Context, poll, timeout time.Duration) bool
}

type Options struct {
	Throttle          time.Duration
	MigrationThrottle time.Duration
	// LegacyValues are earlier encodings negated during migration in
	// addition to the current domain.
	LegacyValues []string
	GatePoll     time.Duration
	GateTimeout  time.Duration
	Logger       *slog.Logger
}

func (o *Options) defaults() {
	if o.Throttle == 0 {
		o.Throttle = 50 * time.Millisecond
	}
	if o.MigrationThrottle == 0 {
		o.MigrationThrottle = 20 * time.Millisecond
	}
	if o.GatePoll == 0 {
		o.GatePoll = 100 * time.Millisecond
	}
	if o.GateTimeout == 0 {
		o.GateTimeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type BatchSummary struct {
	Members  int
	Assigned int
	Skipped  int
	Failed   int
	Revoked  int
}

type MigrationSummary struct {
	Subjects   int
	Negations  int
	Reassigned int
	Failed     int
}

// Engine runs at most one batch or migration at a time.
type Engine struct {
	members Membership
	ledger  *ledger.Ledger
	labeler *labeling.Orchestrator
	gate    Gate
	opts    Options
	logger  *slog.Logger

	running sync.Mutex
}

func NewEngine(members Membership, l *ledger.Ledger, labeler *labeling.Orchestrator, gate Gate, opts Options) *Engine {
	opts.defaults()
	return &Engine{
		members: members,
		ledger:  l,
		labeler: labeler,
		gate:    gate,
		opts:    opts,
		logger:  opts.Logger.With("component", "reconcile"),
	}
}

func limiter(d time.Duration) *rate.Limiter {
	if d < 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(d), 1)
}

// RunBatch runs one reconciliation pass and waits for it.
func (e *Engine) RunBatch(ctx context.Context) (BatchSummary, error) {
	if !e.running.TryLock() {
		return BatchSummary{}, ErrBusy
	}
	defer e.running.Unlock()
	return e.runBatch(ctx)
}

// StartBatch runs a pass in the background. It returns ErrBusy without
// starting anything when a run is in progress.
func (e *Engine) StartBatch(ctx context.Context) error {
	if !e.running.TryLock() {
		return ErrBusy
	}
	go func() {
		defer e.running.Unlock()
		if _, err := e.runBatch(ctx); err != nil {
			e.logger.Error("batch failed", "err", err)
		}
	}()
	return nil
}

// RunMigration re-issues every subject's labels and waits for it.
func (e *Engine) RunMigration(ctx context.Context) (MigrationSummary, error) {
	if !e.running.TryLock() {
		return MigrationSummary{}, ErrBusy
	}
	defer e.running.Unlock()
	return e.runMigration(ctx)
}

// StartMigration is the background form of RunMigration.
func (e *Engine) StartMigration(ctx context.Context) error {
	if !e.running.TryLock() {
		return ErrBusy
	}
	go func() {
		defer e.running.Unlock()
		if _, err := e.runMigration(ctx); err != nil {
			e.logger.Error("migration failed", "err", err)
		}
	}()
	return nil
}

func (e *Engine) runBatch(ctx context.Context) (BatchSummary, error) {
	var sum BatchSummary
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return sum, err
	}

	current, err := e.members.Followers(ctx)
	if err != nil {
		return sum, fmt.Errorf("fetch members: %w", err)
	}
	active, err := e.ledger.ListActiveSubjects(ctx)
	if err != nil {
		return sum, fmt.Errorf("list active subjects: %w", err)
	}

	members := mapset.NewThreadUnsafeSetWithSize[string](len(current))
	for subject := range current {
		members.Add(subject)
	}
	departed := mapset.NewThreadUnsafeSet(active...).Difference(members)
	sum.Members = members.Cardinality()
	e.logger.Info("batch started", "members", sum.Members, "active", len(active), "departed", departed.Cardinality())

	lim := limiter(e.opts.Throttle)
	for _, subject := range sorted(members) {
		if err := lim.Wait(ctx); err != nil {
			return sum, err
		}
		res, err := e.labeler.Assign(ctx, subject)
		switch {
		case err != nil:
			sum.Failed++
			e.logger.Error("assign", "subject", subject, "handle", current[subject], "err", err)
		case res.Skipped:
			sum.Skipped++
		case res.Failed > 0:
			sum.Failed++
		default:
			sum.Assigned++
		}
	}
	for _, subject := range sorted(departed) {
		if err := lim.Wait(ctx); err != nil {
			return sum, err
		}
		if _, err := e.labeler.Revoke(ctx, subject); err != nil {
			sum.Failed++
			e.logger.Error("revoke", "subject", subject, "err", err)
			continue
		}
		sum.Revoked++
	}

	e.logger.Info("batch finished", "members", sum.Members, "assigned", sum.Assigned,
		"skipped", sum.Skipped, "revoked", sum.Revoked, "failed", sum.Failed,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return sum, nil
}

func (e *Engine) runMigration(ctx context.Context) (MigrationSummary, error) {
	var sum MigrationSummary

	all, err := e.ledger.ListAllSubjects(ctx)
	if err != nil {
		return sum, fmt.Errorf("list subjects: %w", err)
	}
	activeList, err := e.ledger.ListActiveSubjects(ctx)
	if err != nil {
		return sum, fmt.Errorf("list active subjects: %w", err)
	}
	active := mapset.NewThreadUnsafeSet(activeList...)
	sum.Subjects = len(all)

	values := mapset.NewThreadUnsafeSet(e.labeler.Values()...)
	negate := append([]string(nil), e.labeler.Values()...)
	for _, v := range e.opts.LegacyValues {
		if values.Add(v) {
			negate = append(negate, v)
		}
	}

	if e.gate != nil && e.gate.SubscriberCount() == 0 {
		e.logger.Info("waiting for a stream subscriber before migrating", "timeout", e.opts.GateTimeout)
		if !e.gate.WaitForSubscribers(ctx, e.opts.GatePoll, e.opts.GateTimeout) {
			if err := ctx.Err(); err != nil {
				return sum, err
			}
			e.logger.Warn("no stream subscriber attached, negations will not be seen live")
		}
	}

	e.logger.Info("migration started", "subjects", len(all), "active", len(activeList), "negated_values", len(negate))
	lim := limiter(e.opts.MigrationThrottle)
	for _, subject := range all {
		if err := lim.Wait(ctx); err != nil {
			return sum, err
		}
		if err := e.migrateSubject(ctx, subject, negate, active.Contains(subject), &sum); err != nil {
			sum.Failed++
			e.logger.Error("migrate subject", "subject", subject, "err", err)
		}
	}
	e.logger.Info("migration finished", "subjects", sum.Subjects, "negations", sum.Negations,
		"reassigned", sum.Reassigned, "failed", sum.Failed)
	return sum, nil
}

func (e *Engine) migrateSubject(ctx context.Context, subject string, negate []string, wasActive bool, sum *MigrationSummary) error {
	pinned, hasPinned, err := e.ledger.ActivePinned(ctx, subject)
	if err != nil {
		return err
	}
	for _, v := range negate {
		if err := e.labeler.Negate(ctx, subject, v); err != nil {
			e.logger.Error("negate", "subject", subject, "value", v, "err", err)
			continue
		}
		sum.Negations++
	}
	if _, err := e.ledger.SoftDelete(ctx, subject, e.labeler.Now()); err != nil {
		return err
	}
	if !wasActive {
		return nil
	}

	if hasPinned && contains(e.labeler.Values(), pinned.Val) {
		_, err = e.labeler.AssignValue(ctx, subject, pinned.Val, true)
	} else {
		_, err = e.labeler.Assign(ctx, subject)
	}
	if err != nil {
		return err
	}
	sum.Reassigned++
	return nil
}

func sorted(s mapset.Set[string]) []string {
	out := s.ToSlice()
	sort.Strings(out)
	return out
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
