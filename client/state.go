// Package client implements the viewer side of the ledger synchronization
// engine: a local trip snapshot that mutations patch optimistically before
// the authoritative store confirms them, and a router that folds broadcast
// events from other actors into the same snapshot.
//
// All updates to one trip's local state run on a single per-trip worker, so
// an optimistic apply and an incoming broadcast event are applied atomically
// with respect to each other and never interleave mid-recompute.
package client

import (
	"sync"

	"github.com/FleetLedger/fleet-ledger-backend/ledger"
	"github.com/FleetLedger/fleet-ledger-backend/logger"
	"github.com/FleetLedger/fleet-ledger-backend/types"
	"go.uber.org/zap"
)

// TripState is the local view of one trip.
//
// Confirmed is the last authoritative state the client knows, advanced only
// by confirmed responses, broadcast events and resyncs. Visible is Confirmed
// with all still-pending optimistic patches applied on top; it is what the
// UI renders. LastApplied is the sequence number of the last event folded
// into Confirmed.
type TripState struct {
	Confirmed   *types.Trip
	Visible     *types.Trip
	Totals      ledger.DerivedTotals
	LastApplied int64
	pending     []*pendingMutation
}

type pendingMutation struct {
	mutation Mutation
	tempID   string
}

// rebuild recomputes Visible from Confirmed plus the pending patches, then
// re-derives the totals. Called after every change to either side.
func (s *TripState) rebuild() {
	s.Visible = s.Confirmed.Clone()
	for _, p := range s.pending {
		p.mutation.ApplyOptimistic(s.Visible, p.tempID)
	}
	totals, err := ledger.Recompute(s.Visible)
	if err != nil {
		logger.GetLogger().Errorw("Failed to recompute local totals", "tripId", s.Confirmed.ID, "error", err)
		return
	}
	s.Totals = totals
}

func (s *TripState) removePending(tempID string) *pendingMutation {
	for i, p := range s.pending {
		if p.tempID == tempID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return p
		}
	}
	return nil
}

// removeOldestPendingOfKind drops the oldest in-flight mutation of a kind.
// Used when the trip channel delivers this client's own mutation before the
// request response does.
func (s *TripState) removeOldestPendingOfKind(kind string) *pendingMutation {
	for i, p := range s.pending {
		if p.mutation.Kind() == kind {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return p
		}
	}
	return nil
}

type managedTrip struct {
	state *TripState
	tasks chan task
	done  chan struct{}
}

type task struct {
	fn   func(*TripState)
	done chan struct{}
}

// StateManager owns the per-trip workers. Do runs a function against a
// trip's state on that trip's worker and waits for it; tasks for the same
// trip execute strictly in order, tasks for different trips in parallel.
type StateManager struct {
	mu     sync.Mutex
	trips  map[string]*managedTrip
	closed bool
	log    *zap.SugaredLogger
}

func NewStateManager() *StateManager {
	return &StateManager{
		trips: make(map[string]*managedTrip),
		log:   logger.GetLogger().Named("client_state"),
	}
}

// Track registers a trip with its initial authoritative snapshot. Tracking
// an already-tracked trip replaces the snapshot.
func (m *StateManager) Track(trip *types.Trip) {
	m.mu.Lock()
	mt, exists := m.trips[trip.ID]
	if !exists {
		mt = &managedTrip{
			state: &TripState{},
			tasks: make(chan task, 64),
			done:  make(chan struct{}),
		}
		m.trips[trip.ID] = mt
		go m.run(mt)
	}
	m.mu.Unlock()

	m.mustDo(mt, func(s *TripState) {
		s.Confirmed = trip.Clone()
		s.LastApplied = trip.Sequence
		s.rebuild()
	})
}

// Untrack stops the trip's worker and drops its state.
func (m *StateManager) Untrack(tripID string) {
	m.mu.Lock()
	mt, exists := m.trips[tripID]
	if exists {
		delete(m.trips, tripID)
	}
	m.mu.Unlock()
	if exists {
		close(mt.done)
	}
}

// Tracked reports whether a trip is currently tracked.
func (m *StateManager) Tracked(tripID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.trips[tripID]
	return ok
}

// Do executes fn against the trip's state on its worker, blocking until it
// ran. Returns false if the trip is not tracked.
func (m *StateManager) Do(tripID string, fn func(*TripState)) bool {
	m.mu.Lock()
	mt, ok := m.trips[tripID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.mustDo(mt, fn)
	return true
}

func (m *StateManager) mustDo(mt *managedTrip, fn func(*TripState)) {
	t := task{fn: fn, done: make(chan struct{})}
	select {
	case mt.tasks <- t:
		select {
		case <-t.done:
		case <-mt.done:
		}
	case <-mt.done:
	}
}

func (m *StateManager) run(mt *managedTrip) {
	for {
		select {
		case t := <-mt.tasks:
			t.fn(mt.state)
			close(t.done)
		case <-mt.done:
			return
		}
	}
}

// Snapshot returns a copy of the trip's visible state and totals.
func (m *StateManager) Snapshot(tripID string) (*types.Trip, ledger.DerivedTotals, bool) {
	var trip *types.Trip
	var totals ledger.DerivedTotals
	ok := m.Do(tripID, func(s *TripState) {
		trip = s.Visible.Clone()
		totals = s.Totals
	})
	return trip, totals, ok
}

// Close stops all workers.
func (m *StateManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for id, mt := range m.trips {
		close(mt.done)
		delete(m.trips, id)
	}
}
