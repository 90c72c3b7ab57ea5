package client

import (
	"context"

	"github.com/FleetLedger/fleet-ledger-backend/config"
)

// Session wires the client pieces for one app instance: a shared state
// manager, the optimistic mutation queue and the subscription router, all
// talking to the same server over HTTP and websockets.
type Session struct {
	States *StateManager
	Queue  *MutationQueue
	Router *SubscriptionRouter
}

// NewSession builds a session against baseURL. The ledger settings control
// how long an optimistic patch may stay unconfirmed before rollback.
func NewSession(baseURL, token, actorID string, ledgerCfg config.LedgerConfig, callbacks Callbacks) *Session {
	transport := NewHTTPTransport(baseURL, token, ledgerCfg.MutationTimeout())
	states := NewStateManager()
	return &Session{
		States: states,
		Queue:  NewMutationQueue(states, transport, transport, ledgerCfg.MutationTimeout(), callbacks),
		Router: NewSubscriptionRouter(states, transport, NewWSEventSource(baseURL, token), actorID, callbacks),
	}
}

// Close tears down every subscription and the per-trip workers.
func (s *Session) Close(ctx context.Context) {
	s.Router.Close(ctx)
	s.States.Close()
}
