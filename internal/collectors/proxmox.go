package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/luckyPipewrench/nodewarden/internal/remoteconfig"
)

// Proxmox queries the local Proxmox VE API for node status. Certificate
// verification is always on — the validated config cannot carry
// verify_ssl=false — so this collector uses the default transport as-is.
func Proxmox(ctx context.Context, client *http.Client, cfg *remoteconfig.ProxmoxConfig) (any, error) {
	endpoint := fmt.Sprintf("https://%s/api2/json/nodes", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("proxmox: build request: %w", err)
	}
	if cfg.TokenID != "" {
		req.Header.Set("Authorization", "PVEAPIToken="+cfg.TokenID+"="+cfg.TokenSecret)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("proxmox: query api: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("proxmox: api returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("proxmox: read response: %w", err)
	}

	var parsed struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("proxmox: parse response: %w", err)
	}
	return map[string]any{"nodes": parsed.Data}, nil
}
