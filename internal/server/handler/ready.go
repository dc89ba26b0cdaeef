package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/liqguard/liquidator/internal/chain"
)

// redisPinger is the narrow surface ReadyHandler needs from the Redis
// client, avoiding an import of the concrete client type's full API.
type redisPinger interface {
	Ping(ctx context.Context) error
}

// ReadyHandler checks connectivity to every upstream dependency the agent
// needs to make progress: chain RPC, Postgres, and Redis. Unlike the
// liveness check, a failing dependency here fails the probe.
type ReadyHandler struct {
	chain *chain.Client
	pg    *pgxpool.Pool
	redis redisPinger
}

func NewReadyHandler(chainClient *chain.Client, pg *pgxpool.Pool, redis redisPinger) *ReadyHandler {
	return &ReadyHandler{chain: chainClient, pg: pg, redis: redis}
}

// Check probes every dependency with a short timeout and reports the result
// of each one; any failure fails the probe.
// GET /api/ready
func (h *ReadyHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]error{
		"chain":    checkErr(func() error { _, err := h.chain.BlockNumber(ctx); return err }),
		"postgres": checkErr(func() error { return h.pg.Ping(ctx) }),
		"redis":    checkErr(func() error { return h.redis.Ping(ctx) }),
	}

	ready := true
	details := make(map[string]string, len(checks))
	for name, err := range checks {
		if err != nil {
			ready = false
			details[name] = err.Error()
		} else {
			details[name] = "ok"
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": ready, "checks": details})
}

func checkErr(fn func() error) error { return fn() }
