package collectors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// Temperatures samples hardware temperature sensors.
func Temperatures(ctx context.Context) (any, error) {
	sensors, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(sensors))
	for _, s := range sensors {
		out = append(out, map[string]any{
			"sensor":      s.SensorKey,
			"temperature": s.Temperature,
			"high":        s.High,
			"critical":    s.Critical,
		})
	}
	return out, nil
}

// Fans reads fan speeds from the hwmon sysfs tree. gopsutil has no fan
// support, so this reads fan*_input files directly.
func Fans(_ context.Context) (any, error) {
	hwmonRoot := "/sys/class/hwmon"
	entries, err := os.ReadDir(hwmonRoot)
	if err != nil {
		return nil, fmt.Errorf("fans: read hwmon: %w", err)
	}

	out := []map[string]any{}
	for _, entry := range entries {
		dir := filepath.Join(hwmonRoot, entry.Name())
		chipName := readTrimmed(filepath.Join(dir, "name"))

		inputs, err := filepath.Glob(filepath.Join(dir, "fan*_input"))
		if err != nil {
			continue
		}
		for _, input := range inputs {
			raw := readTrimmed(input)
			rpm, err := strconv.Atoi(raw)
			if err != nil {
				continue
			}
			out = append(out, map[string]any{
				"chip": chipName,
				"fan":  strings.TrimSuffix(filepath.Base(input), "_input"),
				"rpm":  rpm,
			})
		}
	}
	return out, nil
}

// RAID parses /proc/mdstat into per-array status.
func RAID(_ context.Context) (any, error) {
	data, err := os.ReadFile("/proc/mdstat")
	if err != nil {
		return nil, fmt.Errorf("raid: read mdstat: %w", err)
	}
	return parseMdstat(string(data)), nil
}

// parseMdstat extracts array name, level, member devices, and the [n/m]
// health counts from mdstat's two-line-per-array format.
func parseMdstat(content string) []map[string]any {
	arrays := []map[string]any{}
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, "md") {
			continue
		}
		name, rest, found := strings.Cut(line, " : ")
		if !found {
			continue
		}
		fields := strings.Fields(rest)
		entry := map[string]any{"name": strings.TrimSpace(name)}
		if len(fields) > 0 {
			entry["state"] = fields[0]
		}
		devices := []string{}
		for _, f := range fields[1:] {
			if strings.HasPrefix(f, "raid") {
				entry["level"] = f
				continue
			}
			if idx := strings.IndexByte(f, '['); idx > 0 {
				devices = append(devices, f[:idx])
			}
		}
		entry["devices"] = devices

		// The next line carries "... [n/m] [UU_]".
		if i+1 < len(lines) {
			detail := lines[i+1]
			if start := strings.Index(detail, "["); start >= 0 {
				if end := strings.Index(detail[start:], "]"); end > 0 {
					counts := detail[start+1 : start+end]
					if want, active, found := strings.Cut(counts, "/"); found {
						if w, err := strconv.Atoi(want); err == nil {
							entry["devices_wanted"] = w
						}
						if a, err := strconv.Atoi(active); err == nil {
							entry["devices_active"] = a
						}
					}
				}
			}
			entry["degraded"] = strings.Contains(detail, "_]") || strings.Contains(detail, "[_")
		}
		arrays = append(arrays, entry)
	}
	return arrays
}

func readTrimmed(path string) string {
	data, err := os.ReadFile(path) //nolint:gosec // fixed sysfs paths
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
