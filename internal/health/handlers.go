package health

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-resto/internal/common"
)

// Probe checks one dependency. A nil error means the dependency is usable.
type Probe func(ctx context.Context) error

// PgProbe pings the connection pool.
func PgProbe(pool *pgxpool.Pool) Probe {
	return func(ctx context.Context) error {
		return pool.Ping(ctx)
	}
}

// RedisProbe pings the redis client.
func RedisProbe(client *redis.Client) Probe {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

// Handler serves liveness and readiness endpoints. Readiness runs every
// registered probe under its own timeout so one slow dependency cannot stall
// the rest of the report.
type Handler struct {
	Probes  map[string]Probe
	Timeout time.Duration
}

func (h Handler) timeout() time.Duration {
	if h.Timeout <= 0 {
		return 500 * time.Millisecond
	}
	return h.Timeout
}

// Live always answers ok while the process is serving requests.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports per-dependency status and 503 when any probe fails.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if len(h.Probes) == 0 {
		common.JSONError(w, http.StatusServiceUnavailable, "NOT_READY", "no dependencies registered", nil)
		return
	}
	status := make(map[string]string, len(h.Probes))
	healthy := true
	for name, probe := range h.Probes {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
		err := probe(ctx)
		cancel()
		if err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	common.JSON(w, code, status)
}
