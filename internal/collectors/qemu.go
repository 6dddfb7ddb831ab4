package collectors

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/luckyPipewrench/nodewarden/internal/remoteconfig"
)

// Qemu lists libvirt domains through virsh. The connection URI comes from an
// exact allow-list (local system/session sockets only), so the command can
// never be pointed at a remote hypervisor.
func Qemu(ctx context.Context, cfg *remoteconfig.QemuConfig) (any, error) {
	uri := cfg.URI
	if uri == "" {
		uri = "qemu:///system"
	}

	out, err := exec.CommandContext(ctx, "virsh", "-c", uri, "list", "--all").Output() //nolint:gosec // uri is allow-listed
	if err != nil {
		return nil, fmt.Errorf("qemu: virsh list: %w", err)
	}

	domains := []map[string]any{}
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		// Skip the header and separator lines; data rows start with an id
		// or "-" for shut-off domains.
		if len(fields) < 3 || fields[0] == "Id" || strings.HasPrefix(fields[0], "--") {
			continue
		}
		domains = append(domains, map[string]any{
			"id":    fields[0],
			"name":  fields[1],
			"state": strings.Join(fields[2:], " "),
		})
	}
	return map[string]any{"uri": uri, "domains": domains}, nil
}
