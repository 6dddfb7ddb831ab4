package collectors

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Smart reports SMART health per device via smartctl. Requires the smartctl
// binary and usually root; the capability prober gates this collector.
func Smart(ctx context.Context) (any, error) {
	scan, err := exec.CommandContext(ctx, "smartctl", "--scan").Output()
	if err != nil {
		return nil, fmt.Errorf("smart: scan devices: %w", err)
	}

	out := []map[string]any{}
	for _, line := range strings.Split(string(scan), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || !strings.HasPrefix(fields[0], "/dev/") {
			continue
		}
		device := fields[0]
		entry := map[string]any{"device": device}

		health, err := exec.CommandContext(ctx, "smartctl", "-H", device).Output() //nolint:gosec // device from smartctl --scan
		if err != nil {
			// smartctl exits non-zero for failing drives; keep the output.
			if ee, ok := err.(*exec.ExitError); ok {
				health = append(health, ee.Stderr...)
			} else {
				entry["error"] = err.Error()
				out = append(out, entry)
				continue
			}
		}
		entry["healthy"] = strings.Contains(string(health), "PASSED") ||
			strings.Contains(string(health), "SMART Health Status: OK")
		out = append(out, entry)
	}
	return out, nil
}

// Fail2ban reports per-jail ban counts via fail2ban-client. Gated on the
// binary being present.
func Fail2ban(ctx context.Context) (any, error) {
	status, err := exec.CommandContext(ctx, "fail2ban-client", "status").Output()
	if err != nil {
		return nil, fmt.Errorf("fail2ban: status: %w", err)
	}

	jails := parseFail2banJails(string(status))
	out := map[string]any{"jails": map[string]any{}}
	jailStats := out["jails"].(map[string]any)

	for _, jail := range jails {
		detail, err := exec.CommandContext(ctx, "fail2ban-client", "status", jail).Output() //nolint:gosec // jail names from fail2ban itself
		if err != nil {
			jailStats[jail] = map[string]any{"error": err.Error()}
			continue
		}
		jailStats[jail] = map[string]any{
			"currently_banned": parseFail2banCount(string(detail), "Currently banned:"),
			"total_banned":     parseFail2banCount(string(detail), "Total banned:"),
		}
	}
	return out, nil
}

func parseFail2banJails(status string) []string {
	for _, line := range strings.Split(status, "\n") {
		if !strings.Contains(line, "Jail list:") {
			continue
		}
		_, list, _ := strings.Cut(line, "Jail list:")
		var jails []string
		for _, j := range strings.Split(list, ",") {
			if j = strings.TrimSpace(j); j != "" {
				jails = append(jails, j)
			}
		}
		return jails
	}
	return nil
}

func parseFail2banCount(detail, label string) int {
	for _, line := range strings.Split(detail, "\n") {
		if !strings.Contains(line, label) {
			continue
		}
		_, value, _ := strings.Cut(line, label)
		fields := strings.Fields(value)
		if len(fields) == 0 {
			return 0
		}
		if n, err := strconv.Atoi(fields[0]); err == nil {
			return n
		}
	}
	return 0
}
