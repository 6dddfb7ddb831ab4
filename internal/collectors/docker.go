package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/luckyPipewrench/nodewarden/internal/remoteconfig"
)

const defaultDockerSocket = "/var/run/docker.sock"

// Docker lists running containers over the local unix socket. Validation
// already rejected anything that is not a unix:// socket URL, so no TCP
// daemon can ever be reached from here.
func Docker(ctx context.Context, cfg *remoteconfig.DockerConfig) (any, error) {
	socketPath := defaultDockerSocket
	if cfg.SocketURL != "" {
		socketPath = strings.TrimPrefix(cfg.SocketURL, "unix://")
	}

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://docker/containers/json", nil)
	if err != nil {
		return nil, fmt.Errorf("docker: build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("docker: query daemon: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("docker: daemon returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("docker: read response: %w", err)
	}

	var raw []struct {
		ID     string   `json:"Id"`
		Names  []string `json:"Names"`
		Image  string   `json:"Image"`
		State  string   `json:"State"`
		Status string   `json:"Status"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("docker: parse container list: %w", err)
	}

	containers := make([]map[string]any, 0, len(raw))
	for _, c := range raw {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		containers = append(containers, map[string]any{
			"id":     c.ID,
			"name":   name,
			"image":  c.Image,
			"state":  c.State,
			"status": c.Status,
		})
	}
	return map[string]any{"containers": containers, "running": len(containers)}, nil
}
