package stream

import (
	"context"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgentMesh-Net/labeler-go/internal/core/label"
)

func testLabel(val string) label.Label {
	return label.New("did:plc:labeler", "did:plc:a", val, false, time.Unix(1700000000, 0))
}

func recv(t *testing.T, s *Subscription) *Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		require.True(t, ok, "subscription closed: %v", s.Err())
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestPublish_NoSubscribersIsNoop(t *testing.T) {
	p := NewPublisher(4, nil)
	assert.Equal(t, 0, p.Publish(1, testLabel("kichi")))
}

func TestPublish_FanOutToAllAttached(t *testing.T) {
	p := NewPublisher(4, nil)
	a, err := p.Subscribe()
	require.NoError(t, err)
	b, err := p.Subscribe()
	require.NoError(t, err)

	assert.Equal(t, 2, p.Publish(42, testLabel("kichi")))

	evA, evB := recv(t, a), recv(t, b)
	assert.Equal(t, int64(42), evA.Seq)
	assert.Same(t, evA, evB)
	assert.Equal(t, "kichi", evA.Labels[0].Val)
}

func TestPublish_LateSubscriberSeesOnlyFutureEvents(t *testing.T) {
	p := NewPublisher(4, nil)
	early, err := p.Subscribe()
	require.NoError(t, err)
	p.Publish(1, testLabel("kichi"))

	late, err := p.Subscribe()
	require.NoError(t, err)
	p.Publish(2, testLabel("kyo"))

	assert.Equal(t, int64(1), recv(t, early).Seq)
	assert.Equal(t, int64(2), recv(t, early).Seq)
	assert.Equal(t, int64(2), recv(t, late).Seq)
	select {
	case ev := <-late.Events():
		t.Fatalf("late subscriber got unexpected event %d", ev.Seq)
	default:
	}
}

func TestPublish_SlowConsumerDroppedOthersUnaffected(t *testing.T) {
	p := NewPublisher(2, nil)
	stalled, err := p.Subscribe()
	require.NoError(t, err)
	healthy, err := p.Subscribe()
	require.NoError(t, err)

	var got []int64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range healthy.Events() {
			got = append(got, ev.Seq)
			if ev.Seq == 10 {
				return
			}
		}
	}()

	start := time.Now()
	for seq := int64(1); seq <= 10; seq++ {
		p.Publish(seq, testLabel("kichi"))
		// Let the healthy reader keep up with its two-slot queue.
		time.Sleep(5 * time.Millisecond)
	}
	elapsed := time.Since(start)
	wg.Wait()

	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, got)
	assert.Less(t, elapsed, 2*time.Second, "publish must not block on the stalled subscriber")
	assert.ErrorIs(t, stalled.Err(), ErrLagged)
	assert.Equal(t, 1, p.SubscriberCount())

	// The stalled queue still holds what it buffered, then reports closure.
	n := 0
	for range stalled.Events() {
		n++
	}
	assert.Equal(t, 2, n)
}

func TestSubscriptionClose(t *testing.T) {
	p := NewPublisher(1, nil)
	s, err := p.Subscribe()
	require.NoError(t, err)
	s.Close()
	s.Close()

	_, ok := <-s.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, s.Err(), ErrClosed)
	assert.Zero(t, p.SubscriberCount())
}

func TestPublisherClose(t *testing.T) {
	p := NewPublisher(1, nil)
	s, err := p.Subscribe()
	require.NoError(t, err)
	p.Close()

	assert.ErrorIs(t, s.Err(), ErrClosed)
	_, err = p.Subscribe()
	assert.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, p.Publish(1, testLabel("kichi")))
}

func TestWaitForSubscribers(t *testing.T) {
	p := NewPublisher(1, nil)
	assert.False(t, p.WaitForSubscribers(context.Background(), 5*time.Millisecond, 30*time.Millisecond))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = p.Subscribe()
	}()
	assert.True(t, p.WaitForSubscribers(context.Background(), 5*time.Millisecond, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	empty := NewPublisher(1, nil)
	assert.False(t, empty.WaitForSubscribers(ctx, time.Millisecond, time.Second))
}

func TestEncodeFrame_EmptyBodyGolden(t *testing.T) {
	frame, err := EncodeFrame(12345, nil)
	require.NoError(t, err)

	h, body, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, Header{Op: OpMessage, T: MessageTypeLabels}, h)
	assert.Equal(t, "a263736571193039666c6162656c7380", hex.EncodeToString(body))
}

func TestEventFrame_RoundTrip(t *testing.T) {
	l := testLabel("daikichi")
	l.Sig = []byte{9, 9, 9}
	ev := &Event{Seq: 7, Labels: []label.Label{l}}

	frame, err := ev.Frame()
	require.NoError(t, err)
	again, _ := ev.Frame()
	assert.Equal(t, frame, again)

	body, err := DecodeLabelsFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, int64(7), body.Seq)
	require.Len(t, body.Labels, 1)
	assert.Equal(t, l, body.Labels[0])
}

func TestEncodeErrorFrame(t *testing.T) {
	frame, err := EncodeErrorFrame(ErrorConsumerTooSlow, "queue full")
	require.NoError(t, err)
	h, _, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, OpError, h.Op)

	_, err = DecodeLabelsFrame(frame)
	assert.Error(t, err)
}
