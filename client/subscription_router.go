package client

import (
	"context"
	"sync"

	"github.com/FleetLedger/fleet-ledger-backend/errors"
	"github.com/FleetLedger/fleet-ledger-backend/logger"
	"github.com/FleetLedger/fleet-ledger-backend/types"
	"go.uber.org/zap"
)

// EventSource is a stream of confirmed-mutation events for one trip,
// typically backed by a websocket connection to the server.
type EventSource interface {
	Subscribe(ctx context.Context, tripID string) (<-chan types.Event, error)
	Unsubscribe(ctx context.Context, tripID string) error
}

// SubscriptionRouter subscribes to trip channels and folds incoming events
// into the local confirmed state.
//
// Events are deduplicated by sequence number: anything at or below the last
// applied sequence is dropped, the next expected sequence is applied as a
// patch, and any gap discards local guesswork in favor of a full
// authoritative refetch. Applying a patch is idempotent by entity id, so an
// at-least-once transport never double-counts an entry.
type SubscriptionRouter struct {
	states    *StateManager
	fetcher   Fetcher
	source    EventSource
	actorID   string
	callbacks Callbacks
	log       *zap.SugaredLogger

	mu   sync.Mutex
	subs map[string]context.CancelFunc
}

func NewSubscriptionRouter(states *StateManager, fetcher Fetcher, source EventSource, actorID string, callbacks Callbacks) *SubscriptionRouter {
	return &SubscriptionRouter{
		states:    states,
		fetcher:   fetcher,
		source:    source,
		actorID:   actorID,
		callbacks: callbacks,
		log:       logger.GetLogger().Named("subscription_router"),
		subs:      make(map[string]context.CancelFunc),
	}
}

// Subscribe fetches the trip's current authoritative state, starts tracking
// it and begins folding in its event stream. Subscribing twice to the same
// trip is an error.
func (r *SubscriptionRouter) Subscribe(ctx context.Context, tripID string) error {
	r.mu.Lock()
	if _, exists := r.subs[tripID]; exists {
		r.mu.Unlock()
		return errors.ValidationFailed("already subscribed", "trip "+tripID+" already has an active subscription")
	}
	// Reserve the slot before the fetch so a concurrent Subscribe fails fast.
	r.subs[tripID] = nil
	r.mu.Unlock()

	trip, err := r.fetcher.FetchTrip(ctx, tripID)
	if err != nil {
		r.drop(tripID)
		return err
	}
	r.states.Track(trip)

	events, err := r.source.Subscribe(ctx, tripID)
	if err != nil {
		r.states.Untrack(tripID)
		r.drop(tripID)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.subs[tripID] = cancel
	r.mu.Unlock()

	go r.consume(runCtx, tripID, events)
	return nil
}

// Unsubscribe stops the trip's event stream and drops its local state.
func (r *SubscriptionRouter) Unsubscribe(ctx context.Context, tripID string) error {
	r.mu.Lock()
	cancel, exists := r.subs[tripID]
	delete(r.subs, tripID)
	r.mu.Unlock()
	if !exists {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	if err := r.source.Unsubscribe(ctx, tripID); err != nil {
		r.log.Warnw("Failed to unsubscribe from event source", "tripId", tripID, "error", err)
	}
	r.states.Untrack(tripID)
	return nil
}

// Close tears down every active subscription.
func (r *SubscriptionRouter) Close(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		_ = r.Unsubscribe(ctx, id)
	}
}

func (r *SubscriptionRouter) drop(tripID string) {
	r.mu.Lock()
	delete(r.subs, tripID)
	r.mu.Unlock()
}

func (r *SubscriptionRouter) consume(ctx context.Context, tripID string, events <-chan types.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent routes one event to its trip's state. Events for untracked
// trips are dropped.
func (r *SubscriptionRouter) HandleEvent(ctx context.Context, ev types.Event) {
	if err := ev.Validate(); err != nil {
		r.log.Warnw("Dropping malformed event", "tripId", ev.TripID, "error", err)
		return
	}

	needResync := false
	tracked := r.states.Do(ev.TripID, func(s *TripState) {
		switch {
		case ev.Sequence <= s.LastApplied:
			// Redelivery of something already folded in.
			return
		case ev.Sequence == s.LastApplied+1:
			if ev.ActorID == r.actorID {
				// Our own mutation came back over the channel before its
				// request response did. Retire the oldest matching pending
				// patch so the confirmed entity is not rendered twice.
				s.removeOldestPendingOfKind(kindForEvent(ev.Type))
			}
			if err := applyEventPatch(s.Confirmed, ev); err != nil {
				r.log.Warnw("Failed to apply event patch, forcing resync",
					"tripId", ev.TripID, "sequence", ev.Sequence, "error", err)
				needResync = true
				return
			}
			s.LastApplied = ev.Sequence
			s.rebuild()
		default:
			// Missed at least one event. Local state can no longer be
			// patched forward safely.
			r.log.Warnw("Dropping local state",
				"tripId", ev.TripID,
				"error", errors.SequenceGap(ev.TripID, s.LastApplied, ev.Sequence))
			needResync = true
		}
	})
	if !tracked {
		return
	}

	if needResync {
		r.resync(ctx, ev.TripID, ev.Sequence)
		return
	}
	r.callbacks.changed(ev.TripID)
}

func (r *SubscriptionRouter) resync(ctx context.Context, tripID string, received int64) {
	trip, err := r.fetcher.FetchTrip(ctx, tripID)
	if err != nil {
		r.log.Errorw("Resync after sequence gap failed", "tripId", tripID, "received", received, "error", err)
		return
	}
	r.states.Do(tripID, func(s *TripState) {
		r.log.Infow("Resynced trip after sequence gap",
			"tripId", tripID, "lastApplied", s.LastApplied, "received", received, "sequence", trip.Sequence)
		s.Confirmed = trip.Clone()
		s.LastApplied = trip.Sequence
		s.rebuild()
	})
	r.callbacks.changed(tripID)
	if r.callbacks.OnResync != nil {
		r.callbacks.OnResync(tripID)
	}
}
