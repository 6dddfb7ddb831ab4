package collectors

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/luckyPipewrench/nodewarden/internal/remoteconfig"
	"github.com/luckyPipewrench/nodewarden/internal/resp"
)

// Redis connects to the local Redis instance, authenticates if a password is
// configured, and returns a parsed INFO snapshot. Commands go through the
// structural encoder: every argument is length-prefixed on the wire, so a
// credential can never smuggle additional commands into the stream.
func Redis(ctx context.Context, cfg *remoteconfig.RedisConfig) (any, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("redis: connect: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	br := bufio.NewReader(conn)

	if cfg.Password != "" {
		if _, err := conn.Write(resp.EncodeCommand("AUTH", cfg.Password)); err != nil {
			return nil, fmt.Errorf("redis: auth: %w", err)
		}
		reply, err := resp.ReadReply(br)
		if err != nil {
			return nil, fmt.Errorf("redis: auth reply: %w", err)
		}
		if reply.Kind == '-' {
			return nil, fmt.Errorf("redis: auth rejected: %s", reply.Str)
		}
	}

	if _, err := conn.Write(resp.EncodeCommand("INFO")); err != nil {
		return nil, fmt.Errorf("redis: info: %w", err)
	}
	reply, err := resp.ReadReply(br)
	if err != nil {
		return nil, fmt.Errorf("redis: info reply: %w", err)
	}
	if reply.Kind == '-' {
		return nil, fmt.Errorf("redis: info rejected: %s", reply.Str)
	}

	return parseRedisInfo(reply.Str), nil
}

// parseRedisInfo turns the INFO text into section -> key -> value maps.
func parseRedisInfo(info string) map[string]map[string]string {
	out := map[string]map[string]string{}
	section := "unknown"
	for _, line := range strings.Split(info, "\r\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			section = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "#")))
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		if out[section] == nil {
			out[section] = map[string]string{}
		}
		out[section][key] = value
	}
	return out
}
