package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/luckyPipewrench/nodewarden/internal/remoteconfig"
)

// Caddy queries the admin API for upstream health. The admin URL was already
// pinned to a loopback host during validation.
func Caddy(ctx context.Context, client *http.Client, cfg *remoteconfig.CaddyConfig) (any, error) {
	base := strings.TrimRight(cfg.AdminAPIURL, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/reverse_proxy/upstreams", nil)
	if err != nil {
		return nil, fmt.Errorf("caddy: build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("caddy: query admin api: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("caddy: admin api returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("caddy: read admin api response: %w", err)
	}

	var upstreams []map[string]any
	if err := json.Unmarshal(body, &upstreams); err != nil {
		return nil, fmt.Errorf("caddy: parse upstreams: %w", err)
	}
	return map[string]any{"upstreams": upstreams}, nil
}
