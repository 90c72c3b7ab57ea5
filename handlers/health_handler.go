package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/FleetLedger/fleet-ledger-backend/types"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Pinger is anything with a connectivity check, e.g. *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports the liveness and readiness of the service and its
// backing stores.
type HealthHandler struct {
	db        Pinger
	redis     *redis.Client
	version   string
	startTime time.Time
}

func NewHealthHandler(db Pinger, redisClient *redis.Client, version string) *HealthHandler {
	return &HealthHandler{
		db:        db,
		redis:     redisClient,
		version:   version,
		startTime: time.Now(),
	}
}

// Liveness only confirms the process is serving requests.
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": types.HealthStatusUp})
}

// Readiness checks the database and the event broker. The service can limp
// along without Redis (mutations still commit, subscribers resync later), so
// a Redis failure degrades rather than fails the check.
func (h *HealthHandler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	check := types.HealthCheck{
		Status:     types.HealthStatusUp,
		Components: make(map[string]types.HealthComponent),
		Version:    h.version,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
	}

	if err := h.db.Ping(ctx); err != nil {
		check.Status = types.HealthStatusDown
		check.Components["database"] = types.HealthComponent{Status: types.HealthStatusDown, Details: err.Error()}
	} else {
		check.Components["database"] = types.HealthComponent{Status: types.HealthStatusUp}
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			if check.Status == types.HealthStatusUp {
				check.Status = types.HealthStatusDegraded
			}
			check.Components["redis"] = types.HealthComponent{Status: types.HealthStatusDown, Details: err.Error()}
		} else {
			check.Components["redis"] = types.HealthComponent{Status: types.HealthStatusUp}
		}
	}

	status := http.StatusOK
	if check.Status == types.HealthStatusDown {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, check)
}
