// Package optimistic keeps a locally reordered collection in step with the store.
//
// A Move applies immediately to the local sequence and returns a Gesture. Committing the
// gesture writes the full cumulative order as one batch. Writes are serialized; a
// gesture that has been overtaken by a newer one before its write starts is skipped,
// since the newer gesture's batch already contains it. When the newest gesture's write
// fails the local sequence is restored to the last confirmed sequence.
package optimistic

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"confsite/internal/model"
	"confsite/internal/order"
)

var (
	// ErrSuperseded is returned by Commit for a gesture whose write was coalesced into a newer one.
	ErrSuperseded = errors.New("gesture superseded by a newer move")
	// ErrStale is returned by Commit when a Reset landed while the write was in flight and the
	// write succeeded. The store now holds the gesture's order, not the reset snapshot; the
	// caller should re-read the store and Reset again.
	ErrStale = errors.New("order written after a reset; reload needed")
)

type State int

const (
	Idle State = iota
	Pending
)

func (s State) String() string {
	if s == Pending {
		return "pending"
	}
	return "idle"
}

// BatchWriter persists a full ordered write-batch for one collection.
type BatchWriter interface {
	WriteBatch(ctx context.Context, actorID, collectionID string, placements []model.Placement) error
}

// Notice reports a failed write to the user.
type Notice struct {
	Token    uint64
	Message  string
	Err      error
	Reverted bool
}

type Options struct {
	CollectionID string
	ActorID      string
	Writer       BatchWriter
	// Notify is called without internal locks held. Optional.
	Notify func(Notice)
}

type Synchronizer struct {
	opts Options

	writeMu sync.Mutex // serializes WriteBatch calls

	mu        sync.Mutex
	confirmed []model.Item
	local     []model.Item
	latest    uint64 // token of the newest gesture
	settled   uint64 // newest token whose commit has finished
}

// New starts from items as read from the store, in display order.
func New(items []model.Item, opts Options) *Synchronizer {
	return &Synchronizer{
		opts:      opts,
		confirmed: clone(items),
		local:     clone(items),
	}
}

func clone(items []model.Item) []model.Item {
	return append([]model.Item{}, items...)
}

// Items returns the local (possibly unconfirmed) sequence.
func (s *Synchronizer) Items() []model.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.local)
}

// Confirmed returns the last sequence the store accepted.
func (s *Synchronizer) Confirmed() []model.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.confirmed)
}

func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled < s.latest {
		return Pending
	}
	return Idle
}

// Reset replaces both sequences, e.g. after re-reading the store. Gestures issued before
// the reset are treated as superseded.
func (s *Synchronizer) Reset(items []model.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmed = clone(items)
	s.local = clone(items)
	s.latest++
	s.settled = s.latest
}

// Gesture is one applied move awaiting its write.
type Gesture struct {
	s          *Synchronizer
	Token      uint64
	Items      []model.Item
	Placements []model.Placement
}

// Move applies the reorder to the local sequence and returns the gesture to commit.
func (s *Synchronizer) Move(from, to int) (*Gesture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, err := order.PlanMove(s.local, from, to)
	if err != nil {
		return nil, err
	}
	s.local = plan.Items
	s.latest++
	return &Gesture{
		s:          s,
		Token:      s.latest,
		Items:      clone(plan.Items),
		Placements: plan.Placements(),
	}, nil
}

// Commit writes the gesture's batch. It is safe to call from a goroutine other than the
// one that called Move.
func (g *Gesture) Commit(ctx context.Context) error {
	s := g.s
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if g.Token < s.latest {
		s.mu.Unlock()
		return ErrSuperseded
	}
	s.mu.Unlock()

	err := s.opts.Writer.WriteBatch(ctx, s.opts.ActorID, s.opts.CollectionID, g.Placements)

	s.mu.Lock()
	if g.Token < s.settled {
		// A Reset happened while writing.
		s.mu.Unlock()
		if err != nil {
			return fmt.Errorf("write order: %w", err)
		}
		return ErrStale
	}
	if err == nil {
		s.confirmed = clone(g.Items)
		if g.Token == s.latest {
			s.settled = g.Token
		}
		s.mu.Unlock()
		return nil
	}

	n := Notice{Token: g.Token, Err: err}
	if g.Token == s.latest {
		s.local = clone(s.confirmed)
		s.settled = g.Token
		n.Reverted = true
		n.Message = "Could not save the new order; it has been reverted."
	} else {
		n.Message = "Could not save the order; retrying with the latest change."
	}
	s.mu.Unlock()

	if s.opts.Notify != nil {
		s.opts.Notify(n)
	}
	return fmt.Errorf("write order: %w", err)
}
