// Package labeling applies value decisions to the ledger: one positive
// assertion for the chosen value and a negation for every other value of
// the domain, each signed, written and published individually.
package labeling

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AgentMesh-Net/labeler-go/internal/core/label"
	"github.com/AgentMesh-Net/labeler-go/internal/ledger"
)

// Policy is the value domain and the decision rule over it.
type Policy interface {
	Values() []string
	Contains(value string) bool
	Decide(subject string, now time.Time) string
	SameWindow(a, b time.Time) bool
}

// Publisher receives every committed assertion.
type Publisher interface {
	Publish(seq int64, labels ...label.Label) int
}

type Options struct {
	// PublishRevocations writes and broadcasts a negation for every domain
	// value before a revoke soft-deletes the subject's rows.
	PublishRevocations bool
	Now                func() time.Time
	Logger             *slog.Logger
}

// Result summarises one assignment.
type Result struct {
	Value   string
	Written int
	Failed  int
	// Skipped is set when an in-window pinned value blocked the write.
	Skipped bool
}

type Orchestrator struct {
	ledger *ledger.Ledger
	signer *label.Signer
	policy Policy
	pub    Publisher
	opts   Options
	logger *slog.Logger
}

func New(l *ledger.Ledger, signer *label.Signer, policy Policy, pub Publisher, opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		ledger: l,
		signer: signer,
		policy: policy,
		pub:    pub,
		opts:   opts,
		logger: logger.With("component", "labeling"),
	}
}

// Values returns the domain this orchestrator writes.
func (o *Orchestrator) Values() []string { return o.policy.Values() }

// Now returns the orchestrator's clock reading.
func (o *Orchestrator) Now() time.Time { return o.opts.Now() }

// Assign decides the subject's value for the current window and applies it
// unpinned.
func (o *Orchestrator) Assign(ctx context.Context, subject string) (Result, error) {
	value := o.policy.Decide(subject, o.opts.Now())
	return o.AssignValue(ctx, subject, value, false)
}

// Override applies value pinned, taking precedence over decisions for the
// rest of the current window.
func (o *Orchestrator) Override(ctx context.Context, subject, value string) (Result, error) {
	return o.AssignValue(ctx, subject, value, true)
}

// AssignValue writes value positive and every other domain value negated.
// Unpinned writes are skipped while an active pinned positive row from the
// current window exists. Per-value failures are logged and counted; the
// remaining values are still written.
func (o *Orchestrator) AssignValue(ctx context.Context, subject, value string, pinned bool) (Result, error) {
	res := Result{Value: value}
	if subject == "" {
		return res, fmt.Errorf("%w: subject is required", label.ErrValidation)
	}
	if !o.policy.Contains(value) {
		return res, fmt.Errorf("%w: %q is not a domain value", label.ErrValidation, value)
	}

	now := o.opts.Now()
	if !pinned {
		row, ok, err := o.ledger.ActivePinned(ctx, subject)
		if err != nil {
			return res, err
		}
		if ok && o.policy.SameWindow(row.Cts, now) {
			o.logger.Debug("pinned value in window, skipping", "subject", subject, "pinned", row.Val)
			res.Value = row.Val
			res.Skipped = true
			return res, nil
		}
	}

	for _, v := range o.policy.Values() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := o.write(ctx, label.New(o.signer.Issuer(), subject, v, v != value, now), pinned && v == value); err != nil {
			res.Failed++
			o.logger.Error("write assertion", "subject", subject, "value", v, "err", err)
			continue
		}
		res.Written++
	}
	o.logger.Info("assigned", "subject", subject, "value", value, "pinned", pinned,
		"written", res.Written, "failed", res.Failed)
	return res, nil
}

// Revoke soft-deletes the subject's rows. With PublishRevocations it first
// writes and broadcasts a negation for every domain value.
func (o *Orchestrator) Revoke(ctx context.Context, subject string) (int64, error) {
	now := o.opts.Now()
	if o.opts.PublishRevocations {
		for _, v := range o.policy.Values() {
			if err := o.write(ctx, label.New(o.signer.Issuer(), subject, v, true, now), false); err != nil {
				o.logger.Error("write revocation", "subject", subject, "value", v, "err", err)
			}
		}
	}
	return o.ledger.SoftDelete(ctx, subject, now)
}

// Negate writes and publishes a single negation for value, which need not
// belong to the current domain.
func (o *Orchestrator) Negate(ctx context.Context, subject, value string) error {
	return o.write(ctx, label.New(o.signer.Issuer(), subject, value, true, o.opts.Now()), false)
}

func (o *Orchestrator) write(ctx context.Context, l label.Label, pinned bool) error {
	signed, err := o.signer.Sign(l)
	if err != nil {
		return err
	}
	seq, err := o.ledger.Write(ctx, ledger.Entry{Label: signed, Pinned: pinned}, func(seq int64) {
		if o.pub != nil {
			o.pub.Publish(seq, signed)
		}
	})
	if err != nil {
		return err
	}
	o.logger.Debug("wrote assertion", "subject", l.URI, "value", l.Val, "neg", l.Neg, "seq", seq)
	return nil
}
