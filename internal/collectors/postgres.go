package collectors

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/luckyPipewrench/nodewarden/internal/remoteconfig"
)

// Postgres probes the local PostgreSQL server. Without a SQL driver on
// board, the probe reports reachability and connect latency; the host was
// already pinned to loopback during validation.
func Postgres(ctx context.Context, cfg *remoteconfig.PostgresConfig) (any, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	var d net.Dialer
	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect %s: %w", addr, err)
	}
	latency := time.Since(start)
	_ = conn.Close()

	return map[string]any{
		"host":               cfg.Host,
		"port":               cfg.Port,
		"database":           cfg.Database,
		"reachable":          true,
		"connect_latency_ms": float64(latency.Microseconds()) / 1000.0,
	}, nil
}
