package handlers

import (
	"context"
	"time"

	"github.com/FleetLedger/fleet-ledger-backend/logger"
	"github.com/FleetLedger/fleet-ledger-backend/middleware"
	"github.com/FleetLedger/fleet-ledger-backend/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// WSHandler streams a trip's confirmed-mutation events over a websocket.
// Each connection is one subscriber on the trip's channel; the broadcaster
// fans out per subscriber, so no extra hub layer sits in between.
type WSHandler struct {
	trips          TripManager
	publisher      types.EventPublisher
	isDevelopment  bool
	allowedOrigins []string
	pingInterval   time.Duration
	writeTimeout   time.Duration
	log            *zap.SugaredLogger
}

func NewWSHandler(trips TripManager, publisher types.EventPublisher, isDevelopment bool, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		trips:          trips,
		publisher:      publisher,
		isDevelopment:  isDevelopment,
		allowedOrigins: allowedOrigins,
		pingInterval:   30 * time.Second,
		writeTimeout:   10 * time.Second,
		log:            logger.GetLogger().Named("ws_handler"),
	}
}

func (h *WSHandler) acceptOptions() *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	}
	if h.isDevelopment {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = h.allowedOrigins
	}
	return opts
}

// StreamTrip upgrades the request and forwards the trip's events until the
// client disconnects. The trip is fetched first so an unknown id fails with
// a regular HTTP error instead of a dropped socket.
func (h *WSHandler) StreamTrip(c *gin.Context) {
	tripID := c.Param("id")
	userID := middleware.GetUserID(c)

	if _, err := h.trips.GetTrip(c.Request.Context(), tripID); err != nil {
		_ = c.Error(err)
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, h.acceptOptions())
	if err != nil {
		h.log.Errorw("Failed to accept websocket connection", "tripId", tripID, "userId", userID, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	subscriberID := userID + ":" + uuid.New().String()
	events, err := h.publisher.Subscribe(ctx, tripID, subscriberID)
	if err != nil {
		h.log.Errorw("Failed to subscribe to trip channel", "tripId", tripID, "subscriberId", subscriberID, "error", err)
		_ = conn.Close(websocket.StatusInternalError, "subscription failed")
		return
	}
	defer func() {
		unsubCtx, unsubCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer unsubCancel()
		if err := h.publisher.Unsubscribe(unsubCtx, tripID, subscriberID); err != nil {
			h.log.Warnw("Failed to unsubscribe from trip channel", "tripId", tripID, "error", err)
		}
	}()

	h.log.Infow("Websocket subscriber connected", "tripId", tripID, "userId", userID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.writeLoop(gctx, conn, events) })
	g.Go(func() error { return h.readLoop(gctx, conn) })
	g.Go(func() error { return h.pingLoop(gctx, conn) })

	if err := g.Wait(); err != nil && websocket.CloseStatus(err) == -1 && gctx.Err() == nil {
		h.log.Warnw("Websocket connection error", "tripId", tripID, "userId", userID, "error", err)
	}
	_ = conn.Close(websocket.StatusNormalClosure, "stream ended")
	h.log.Infow("Websocket subscriber disconnected", "tripId", tripID, "userId", userID)
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, events <-chan types.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

// readLoop drains client frames so pongs and close frames are processed.
// This stream is server-to-client only; inbound payloads are discarded.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return err
		}
	}
}

func (h *WSHandler) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
