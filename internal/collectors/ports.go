package collectors

import (
	"context"

	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/luckyPipewrench/nodewarden/internal/remoteconfig"
)

// Ports reports, for each monitored port, whether something is listening on
// it. The port list was element-wise validated into [1, 65535].
func Ports(ctx context.Context, cfg *remoteconfig.PortsConfig) (any, error) {
	conns, err := psnet.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return nil, err
	}

	listening := map[int]bool{}
	for _, c := range conns {
		if c.Status == "LISTEN" {
			listening[int(c.Laddr.Port)] = true
		}
	}

	out := make([]map[string]any, 0, len(cfg.MonitoredPorts))
	for _, port := range cfg.MonitoredPorts {
		out = append(out, map[string]any{
			"port":      port,
			"listening": listening[port],
		})
	}
	return out, nil
}
