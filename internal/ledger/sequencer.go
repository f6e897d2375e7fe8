package ledger

import (
	"context"
	"sync"
)

// sequencer hands out sequence numbers and releases commit hooks strictly
// in sequence order, so a hook never runs before the hooks of earlier
// sequences, even when the writes behind them finish out of order.
type sequencer struct {
	mu      sync.Mutex
	loaded  bool
	next    int64 // next seq to hand out
	release int64 // next seq whose hook may run
	pending map[int64]*ticket
}

type ticket struct {
	seq  int64
	emit func(seq int64)
	done chan struct{}
}

func newSequencer() *sequencer {
	return &sequencer{pending: make(map[int64]*ticket)}
}

// take reserves the next sequence. load supplies the highest stored seq the
// first time it is needed.
func (s *sequencer) take(ctx context.Context, load func(context.Context) (int64, error)) (*ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		hi, err := load(ctx)
		if err != nil {
			return nil, err
		}
		s.next, s.release = hi+1, hi+1
		s.loaded = true
	}
	t := &ticket{seq: s.next, done: make(chan struct{})}
	s.next++
	return t, nil
}

// finish marks t complete. emit is nil when the write failed; the slot is
// still released so later hooks are not held back.
func (s *sequencer) finish(t *ticket, emit func(seq int64)) {
	t.emit = emit
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[t.seq] = t
	for {
		p, ok := s.pending[s.release]
		if !ok {
			return
		}
		delete(s.pending, s.release)
		if p.emit != nil {
			p.emit(p.seq)
		}
		close(p.done)
		s.release++
	}
}
