package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type everyWindow time.Duration

func (w everyWindow) NextWindow(at time.Time) time.Time { return at.Add(time.Duration(w)) }

func TestScheduler_RunsOnStartAndAtBoundaries(t *testing.T) {
	e := newEnv(t)
	e.members.set("did:plc:a")
	s := NewScheduler(e.engine, everyWindow(10*time.Millisecond), true, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(e.active(t, "did:plc:a")) == 3
	}, time.Second, 5*time.Millisecond)

	e.members.set("did:plc:b")
	require.Eventually(t, func() bool {
		return len(e.active(t, "did:plc:a")) == 0 && len(e.active(t, "did:plc:b")) == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
