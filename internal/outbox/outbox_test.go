package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockStore struct {
	mu      sync.Mutex
	pending []Message
	sent    []int64
	markErr error
}

func (m *mockStore) FetchPending(_ context.Context, limit int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.pending {
		if len(out) == limit {
			break
		}
		out = append(out, msg)
	}
	return out, nil
}

func (m *mockStore) MarkSent(_ context.Context, seqs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	done := make(map[int64]bool, len(seqs))
	for _, s := range seqs {
		done[s] = true
	}
	m.sent = append(m.sent, seqs...)
	kept := m.pending[:0:0]
	for _, msg := range m.pending {
		if !done[msg.Seq] {
			kept = append(kept, msg)
		}
	}
	m.pending = kept
	return nil
}

type mockPublisher struct {
	mu      sync.Mutex
	byOrder map[string][]string
	failFor string
}

func (p *mockPublisher) Publish(_ context.Context, msgs []Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if msgs[0].OrderID == p.failFor {
		return errors.New("broker unavailable")
	}
	if p.byOrder == nil {
		p.byOrder = map[string][]string{}
	}
	for _, m := range msgs {
		p.byOrder[m.OrderID] = append(p.byOrder[m.OrderID], m.Type)
	}
	return nil
}

// --- Helpers ---

func msgs() []Message {
	return []Message{
		{Seq: 1, ID: "e1", OrderID: "o1", Type: "order.placed"},
		{Seq: 2, ID: "e2", OrderID: "o2", Type: "order.placed"},
		{Seq: 3, ID: "e3", OrderID: "o1", Type: "order.rider_assigned"},
		{Seq: 4, ID: "e4", OrderID: "o1", Type: "order.cancelled"},
	}
}

func newTestRelay(t *testing.T, s Store, p Publisher, batch int) *Relay {
	t.Helper()
	r, err := NewRelay(s, p, Config{BatchSize: batch, Interval: 10 * time.Millisecond}, nil, nil)
	require.NoError(t, err)
	return r
}

// --- Tests ---

func TestFlush_PublishesPerOrderInSequence(t *testing.T) {
	store := &mockStore{pending: msgs()}
	pub := &mockPublisher{}
	r := newTestRelay(t, store, pub, 10)

	n, err := r.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Empty(t, store.pending)
	assert.ElementsMatch(t, []int64{1, 2, 3, 4}, store.sent)
	assert.Equal(t, []string{"order.placed", "order.rider_assigned", "order.cancelled"}, pub.byOrder["o1"])
	assert.Equal(t, []string{"order.placed"}, pub.byOrder["o2"])
}

func TestFlush_FailedOrderStaysPending(t *testing.T) {
	store := &mockStore{pending: msgs()}
	pub := &mockPublisher{failFor: "o1"}
	r := newTestRelay(t, store, pub, 10)

	n, err := r.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, store.pending, 3)
	for _, m := range store.pending {
		assert.Equal(t, "o1", m.OrderID)
	}

	pub.failFor = ""
	n, err = r.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Empty(t, store.pending)
}

func TestFlush_RespectsBatchSize(t *testing.T) {
	store := &mockStore{pending: msgs()}
	r := newTestRelay(t, store, &mockPublisher{}, 2)

	n, err := r.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, store.pending, 2)
}

func TestFlush_MarkError(t *testing.T) {
	store := &mockStore{pending: msgs(), markErr: errors.New("connection reset")}
	r := newTestRelay(t, store, &mockPublisher{}, 10)

	_, err := r.Flush(context.Background())
	require.Error(t, err)
	assert.Len(t, store.pending, 4)
}

func TestRun_StopsOnCancel(t *testing.T) {
	store := &mockStore{pending: msgs()}
	r := newTestRelay(t, store, &mockPublisher{}, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.pending) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestToKafka(t *testing.T) {
	at := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	out := toKafka([]Message{{Seq: 7, ID: "e7", OrderID: "o9", Type: "order.delivered", Payload: []byte(`{}`), OccurredAt: at}})
	require.Len(t, out, 1)
	assert.Equal(t, "o9", string(out[0].Key))
	assert.Equal(t, at, out[0].Time)
	assert.Equal(t, "order.delivered", string(out[0].Headers[0].Value))
	assert.Equal(t, "e7", string(out[0].Headers[1].Value))
}
