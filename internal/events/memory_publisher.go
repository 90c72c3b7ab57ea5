package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/FleetLedger/fleet-ledger-backend/types"
)

// MemoryPublisher implements types.EventPublisher in process. Used by tests
// and single-node development setups where Redis is not available.
type MemoryPublisher struct {
	mu            sync.RWMutex
	events        map[string][]types.Event // key: tripID
	subscriptions map[string]chan types.Event
	closed        bool
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{
		events:        make(map[string][]types.Event),
		subscriptions: make(map[string]chan types.Event),
	}
}

func (m *MemoryPublisher) Publish(ctx context.Context, tripID string, event types.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("publisher is closed")
	}

	m.events[tripID] = append(m.events[tripID], event)

	for subKey, ch := range m.subscriptions {
		if subscriberTrip(subKey) == tripID {
			select {
			case ch <- event:
			default:
				// Full buffer behaves like the Redis publisher: drop and let
				// the consumer resync on the gap.
			}
		}
	}

	return nil
}

func (m *MemoryPublisher) Subscribe(ctx context.Context, tripID string, subscriberID string) (<-chan types.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("publisher is closed")
	}

	subKey := tripID + "|" + subscriberID
	if _, exists := m.subscriptions[subKey]; exists {
		return nil, fmt.Errorf("subscription already exists for trip %s and subscriber %s", tripID, subscriberID)
	}

	ch := make(chan types.Event, 100)
	m.subscriptions[subKey] = ch
	return ch, nil
}

func (m *MemoryPublisher) Unsubscribe(ctx context.Context, tripID string, subscriberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	subKey := tripID + "|" + subscriberID
	ch, exists := m.subscriptions[subKey]
	if !exists {
		return fmt.Errorf("no subscription found for trip %s and subscriber %s", tripID, subscriberID)
	}
	close(ch)
	delete(m.subscriptions, subKey)
	return nil
}

// Published returns the events recorded for a trip, in publish order.
func (m *MemoryPublisher) Published(tripID string) []types.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.Event(nil), m.events[tripID]...)
}

// Close shuts down all subscriptions.
func (m *MemoryPublisher) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for key, ch := range m.subscriptions {
		close(ch)
		delete(m.subscriptions, key)
	}
}

func subscriberTrip(subKey string) string {
	for i := 0; i < len(subKey); i++ {
		if subKey[i] == '|' {
			return subKey[:i]
		}
	}
	return subKey
}
