package collectors

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/luckyPipewrench/nodewarden/internal/remoteconfig"
)

// Nginx fetches and parses the stub_status page. The URL was already pinned
// to a loopback host during validation.
func Nginx(ctx context.Context, client *http.Client, cfg *remoteconfig.NginxConfig) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.StatusPageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("nginx: build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nginx: fetch status page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nginx: status page returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("nginx: read status page: %w", err)
	}
	return parseStubStatus(string(body))
}

// parseStubStatus parses the three-line stub_status format:
//
//	Active connections: 291
//	server accepts handled requests
//	 16630948 16630948 31070465
//	Reading: 6 Writing: 179 Waiting: 106
func parseStubStatus(body string) (map[string]any, error) {
	out := map[string]any{}
	lines := strings.Split(strings.TrimSpace(body), "\n")
	if len(lines) < 4 {
		return nil, fmt.Errorf("nginx: unexpected stub_status shape (%d lines)", len(lines))
	}

	if _, after, found := strings.Cut(lines[0], "Active connections:"); found {
		if n, err := strconv.Atoi(strings.TrimSpace(after)); err == nil {
			out["active_connections"] = n
		}
	}

	counters := strings.Fields(lines[2])
	if len(counters) == 3 {
		names := []string{"accepts", "handled", "requests"}
		for i, name := range names {
			if n, err := strconv.Atoi(counters[i]); err == nil {
				out[name] = n
			}
		}
	}

	fields := strings.Fields(lines[3])
	for i := 0; i+1 < len(fields); i += 2 {
		key := strings.ToLower(strings.TrimSuffix(fields[i], ":"))
		if n, err := strconv.Atoi(fields[i+1]); err == nil {
			out[key] = n
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("nginx: could not parse stub_status body")
	}
	return out, nil
}
