package collectors

import (
	"context"
	"net"
)

// IPv4 lists the host's global unicast IPv4 addresses per interface.
func IPv4(ctx context.Context) (any, error) {
	return interfaceAddresses(ctx, false)
}

// IPv6 lists the host's global unicast IPv6 addresses per interface.
func IPv6(ctx context.Context) (any, error) {
	return interfaceAddresses(ctx, true)
}

func interfaceAddresses(_ context.Context, v6 bool) (any, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := map[string][]string{}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || !ipNet.IP.IsGlobalUnicast() {
				continue
			}
			isV4 := ipNet.IP.To4() != nil
			if isV4 == v6 {
				continue
			}
			out[iface.Name] = append(out[iface.Name], ipNet.IP.String())
		}
	}
	return out, nil
}
