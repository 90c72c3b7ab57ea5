package client

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/FleetLedger/fleet-ledger-backend/logger"
	"github.com/FleetLedger/fleet-ledger-backend/types"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const wsReconnectBackoff = 2 * time.Second

// WSEventSource streams trip events over the server's per-trip websocket
// endpoint. A dropped connection is redialed with backoff; events missed
// while disconnected surface as a sequence gap, which the subscription
// router resolves with a full refetch, so the reconnect path does not need
// its own replay machinery.
type WSEventSource struct {
	baseURL string
	token   string
	log     *zap.SugaredLogger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewWSEventSource creates a source dialing baseURL, e.g. "ws://host:8080".
func NewWSEventSource(baseURL, token string) *WSEventSource {
	return &WSEventSource{
		baseURL: baseURL,
		token:   token,
		log:     logger.GetLogger().Named("ws_source"),
		cancels: make(map[string]context.CancelFunc),
	}
}

func (s *WSEventSource) Subscribe(ctx context.Context, tripID string) (<-chan types.Event, error) {
	conn, err := s.dial(ctx, tripID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if prev, exists := s.cancels[tripID]; exists {
		prev()
	}
	s.cancels[tripID] = cancel
	s.mu.Unlock()

	events := make(chan types.Event, 64)
	go s.readLoop(runCtx, tripID, conn, events)
	return events, nil
}

func (s *WSEventSource) Unsubscribe(ctx context.Context, tripID string) error {
	s.mu.Lock()
	cancel, exists := s.cancels[tripID]
	delete(s.cancels, tripID)
	s.mu.Unlock()
	if exists {
		cancel()
	}
	return nil
}

func (s *WSEventSource) dial(ctx context.Context, tripID string) (*websocket.Conn, error) {
	opts := &websocket.DialOptions{}
	if s.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + s.token}}
	}
	conn, _, err := websocket.Dial(ctx, s.baseURL+"/v1/trips/"+tripID+"/ws", opts)
	return conn, err
}

func (s *WSEventSource) readLoop(ctx context.Context, tripID string, conn *websocket.Conn, events chan<- types.Event) {
	defer close(events)
	defer func() {
		if conn != nil {
			conn.Close(websocket.StatusNormalClosure, "unsubscribed")
		}
	}()

	for {
		if conn == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wsReconnectBackoff):
			}
			redialed, err := s.dial(ctx, tripID)
			if err != nil {
				s.log.Warnw("Websocket redial failed", "tripId", tripID, "error", err)
				continue
			}
			s.log.Infow("Websocket reconnected", "tripId", tripID)
			conn = redialed
		}

		var ev types.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warnw("Websocket read failed, reconnecting", "tripId", tripID, "error", err)
			conn.Close(websocket.StatusInternalError, "read failure")
			conn = nil
			continue
		}

		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
	}
}
