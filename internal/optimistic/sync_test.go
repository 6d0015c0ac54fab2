package optimistic

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"confsite/internal/model"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]model.Placement
	fail    func(n int) error
	gate    chan struct{} // when set, each write waits for a receive
	started chan struct{}
}

func (w *fakeWriter) WriteBatch(ctx context.Context, actorID, collectionID string, p []model.Placement) error {
	if w.started != nil {
		w.started <- struct{}{}
	}
	if w.gate != nil {
		select {
		case <-w.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batches = append(w.batches, append([]model.Placement{}, p...))
	if w.fail != nil {
		return w.fail(len(w.batches))
	}
	return nil
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.batches)
}

func seq(ids ...string) []model.Item {
	out := make([]model.Item, 0, len(ids))
	for i, id := range ids {
		out = append(out, model.Item{ID: id, Title: id, Position: float64(i+1) * 1024})
	}
	return out
}

func ids(items []model.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestMove_AppliesLocallyBeforeCommit(t *testing.T) {
	w := &fakeWriter{}
	s := New(seq("A", "B", "C", "D"), Options{CollectionID: "gallery", Writer: w})

	g, err := s.Move(0, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C", "A", "D"}, ids(s.Items()))
	assert.Equal(t, []string{"A", "B", "C", "D"}, ids(s.Confirmed()))
	assert.Equal(t, Pending, s.State())
	assert.Equal(t, 0, w.count())

	require.NoError(t, g.Commit(context.Background()))
	assert.Equal(t, Idle, s.State())
	if diff := cmp.Diff(s.Items(), s.Confirmed()); diff != "" {
		t.Fatalf("confirmed mismatch (-local +confirmed):\n%s", diff)
	}
	require.Equal(t, 1, w.count())
	assert.Equal(t, g.Placements, w.batches[0])
}

func TestMove_OutOfRange(t *testing.T) {
	s := New(seq("A"), Options{Writer: &fakeWriter{}})
	_, err := s.Move(0, 1)
	require.Error(t, err)
	assert.Equal(t, Idle, s.State())
}

func TestCommit_FailureRevertsExactly(t *testing.T) {
	boom := errors.New("store unavailable")
	w := &fakeWriter{fail: func(int) error { return boom }}
	var notices []Notice
	before := seq("A", "B", "C", "D")
	s := New(before, Options{Writer: w, Notify: func(n Notice) { notices = append(notices, n) }})

	g, err := s.Move(3, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"D", "A", "B", "C"}, ids(s.Items()))

	err = g.Commit(context.Background())
	require.ErrorIs(t, err, boom)
	if diff := cmp.Diff(before, s.Items()); diff != "" {
		t.Fatalf("local not reverted (-want +got):\n%s", diff)
	}
	assert.Equal(t, Idle, s.State())
	require.Len(t, notices, 1)
	assert.True(t, notices[0].Reverted)
	assert.Equal(t, g.Token, notices[0].Token)
}

func TestCommit_FailureRevertsToLastConfirmed(t *testing.T) {
	w := &fakeWriter{fail: func(n int) error {
		if n == 2 {
			return errors.New("conflict")
		}
		return nil
	}}
	s := New(seq("A", "B", "C"), Options{Writer: w})

	g1, err := s.Move(0, 2)
	require.NoError(t, err)
	require.NoError(t, g1.Commit(context.Background()))
	confirmed := s.Items()

	g2, err := s.Move(0, 1)
	require.NoError(t, err)
	require.Error(t, g2.Commit(context.Background()))
	assert.Equal(t, confirmed, s.Items())
	assert.Equal(t, []string{"B", "C", "A"}, ids(s.Items()))
}

func TestCommit_SupersededGestureIsCoalesced(t *testing.T) {
	w := &fakeWriter{}
	s := New(seq("A", "B", "C", "D"), Options{Writer: w})

	g1, err := s.Move(0, 3)
	require.NoError(t, err)
	g2, err := s.Move(0, 1)
	require.NoError(t, err)
	assert.Greater(t, g2.Token, g1.Token)

	require.NoError(t, g2.Commit(context.Background()))
	assert.ErrorIs(t, g1.Commit(context.Background()), ErrSuperseded)

	require.Equal(t, 1, w.count())
	assert.Equal(t, []string{"C", "B", "D", "A"}, ids(s.Confirmed()))
	assert.Equal(t, Idle, s.State())
}

func TestCommit_OlderFailureKeepsNewerLocalOrder(t *testing.T) {
	w := &fakeWriter{
		gate:    make(chan struct{}),
		started: make(chan struct{}, 2),
		fail: func(n int) error {
			if n == 1 {
				return errors.New("timeout")
			}
			return nil
		},
	}
	var (
		mu      sync.Mutex
		notices []Notice
	)
	s := New(seq("A", "B", "C"), Options{Writer: w, Notify: func(n Notice) {
		mu.Lock()
		notices = append(notices, n)
		mu.Unlock()
	}})

	g1, err := s.Move(2, 0)
	require.NoError(t, err)
	errs := make(chan error, 1)
	go func() { errs <- g1.Commit(context.Background()) }()
	<-w.started

	// A newer gesture arrives while the first write is in flight.
	g2, err := s.Move(1, 2)
	require.NoError(t, err)
	want := ids(s.Items())

	w.gate <- struct{}{}
	require.Error(t, <-errs)
	assert.Equal(t, want, ids(s.Items()), "older failure must not discard the newer gesture")
	assert.Equal(t, Pending, s.State())

	done := make(chan error, 1)
	go func() { done <- g2.Commit(context.Background()) }()
	<-w.started
	w.gate <- struct{}{}
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("commit did not finish")
	}
	assert.Equal(t, want, ids(s.Confirmed()))
	assert.Equal(t, Idle, s.State())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, notices, 1)
	assert.False(t, notices[0].Reverted)
}

func TestReset_SupersedesOutstandingGestures(t *testing.T) {
	w := &fakeWriter{}
	s := New(seq("A", "B"), Options{Writer: w})
	g, err := s.Move(0, 1)
	require.NoError(t, err)

	s.Reset(seq("X", "Y", "Z"))
	assert.ErrorIs(t, g.Commit(context.Background()), ErrSuperseded)
	assert.Equal(t, []string{"X", "Y", "Z"}, ids(s.Items()))
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, 0, w.count())
}

func TestReset_DuringSuccessfulWriteReportsStale(t *testing.T) {
	w := &fakeWriter{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	s := New(seq("A", "B"), Options{Writer: w})
	g, err := s.Move(0, 1)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- g.Commit(context.Background()) }()
	<-w.started

	s.Reset(seq("A", "B"))
	w.gate <- struct{}{}

	assert.ErrorIs(t, <-done, ErrStale)
	require.Equal(t, 1, w.count())
	assert.Equal(t, []string{"B", "A"}, []string{w.batches[0][0].ID, w.batches[0][1].ID}, "the store holds the gesture's order")
	assert.Equal(t, []string{"A", "B"}, ids(s.Items()))
	assert.Equal(t, Idle, s.State())
}

func TestReset_DuringFailedWriteReturnsError(t *testing.T) {
	boom := errors.New("boom")
	w := &fakeWriter{gate: make(chan struct{}), started: make(chan struct{}, 1), fail: func(int) error { return boom }}
	s := New(seq("A", "B"), Options{Writer: w})
	g, err := s.Move(0, 1)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- g.Commit(context.Background()) }()
	<-w.started

	s.Reset(seq("A", "B"))
	w.gate <- struct{}{}

	err = <-done
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrStale)
	assert.Equal(t, []string{"A", "B"}, ids(s.Items()))
}
