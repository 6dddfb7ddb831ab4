package collectors

import (
	"context"
	"net"
	"time"
)

// pingPort is the TCP port used for latency probes. A plain connect to 443
// works through firewalls that drop ICMP and needs no raw-socket privileges.
const pingPort = "443"

// pingTimeout bounds each individual probe even when the cycle deadline is
// far away.
const pingTimeout = 3 * time.Second

// Ping measures TCP connect latency to each configured region host. Hosts
// come from the validated ping map; a host that cannot be reached reports an
// error string instead of failing the whole collector.
func Ping(ctx context.Context, targets map[string]string) (any, error) {
	out := make(map[string]any, len(targets))
	for region, hostname := range targets {
		probeCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		latency, err := probeOnce(probeCtx, hostname)
		cancel()
		if err != nil {
			out[region] = map[string]any{"host": hostname, "error": err.Error()}
			continue
		}
		out[region] = map[string]any{
			"host":       hostname,
			"latency_ms": float64(latency.Microseconds()) / 1000.0,
		}
	}
	return out, nil
}

func probeOnce(ctx context.Context, hostname string) (time.Duration, error) {
	var d net.Dialer
	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(hostname, pingPort))
	if err != nil {
		return 0, err
	}
	latency := time.Since(start)
	_ = conn.Close()
	return latency, nil
}
