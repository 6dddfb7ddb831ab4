// Package collectors implements the individual metric probes. Each collector
// is a pure sampling function: it takes a context and whatever validated
// parameters it needs, and returns a JSON-shaped value or an error. Scheduling,
// timeouts, and fault isolation live in the dispatch package.
package collectors

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// CPU samples per-core usage, counts, and load averages.
func CPU(ctx context.Context) (any, error) {
	out := map[string]any{}

	perCore, err := cpu.PercentWithContext(ctx, 0, true)
	if err != nil {
		return nil, err
	}
	out["usage_per_core"] = perCore

	if counts, err := cpu.CountsWithContext(ctx, true); err == nil {
		out["logical_cores"] = counts
	}
	if counts, err := cpu.CountsWithContext(ctx, false); err == nil {
		out["physical_cores"] = counts
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		out["load_1"] = avg.Load1
		out["load_5"] = avg.Load5
		out["load_15"] = avg.Load15
	}
	return out, nil
}

// Memory samples virtual memory and swap.
func Memory(ctx context.Context) (any, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"total":        vm.Total,
		"available":    vm.Available,
		"used":         vm.Used,
		"used_percent": vm.UsedPercent,
		"cached":       vm.Cached,
		"buffers":      vm.Buffers,
	}
	if swap, err := mem.SwapMemoryWithContext(ctx); err == nil {
		out["swap_total"] = swap.Total
		out["swap_used"] = swap.Used
		out["swap_used_percent"] = swap.UsedPercent
	}
	return out, nil
}

// Network samples per-interface byte and packet counters.
func Network(ctx context.Context) (any, error) {
	counters, err := psnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, err
	}
	ifaces := make([]map[string]any, 0, len(counters))
	for _, c := range counters {
		if c.Name == "lo" {
			continue
		}
		ifaces = append(ifaces, map[string]any{
			"name":         c.Name,
			"bytes_sent":   c.BytesSent,
			"bytes_recv":   c.BytesRecv,
			"packets_sent": c.PacketsSent,
			"packets_recv": c.PacketsRecv,
			"err_in":       c.Errin,
			"err_out":      c.Errout,
			"drop_in":      c.Dropin,
			"drop_out":     c.Dropout,
		})
	}
	return ifaces, nil
}

// Partitions samples mounted filesystems and their usage.
func Partitions(ctx context.Context) (any, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(parts))
	for _, p := range parts {
		entry := map[string]any{
			"device":     p.Device,
			"mountpoint": p.Mountpoint,
			"fstype":     p.Fstype,
		}
		if usage, err := disk.UsageWithContext(ctx, p.Mountpoint); err == nil {
			entry["total"] = usage.Total
			entry["used"] = usage.Used
			entry["free"] = usage.Free
			entry["used_percent"] = usage.UsedPercent
			entry["inodes_used_percent"] = usage.InodesUsedPercent
		}
		out = append(out, entry)
	}
	return out, nil
}

// IO samples per-device disk I/O counters.
func IO(ctx context.Context) (any, error) {
	counters, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(counters))
	for name, c := range counters {
		out[name] = map[string]any{
			"read_count":  c.ReadCount,
			"write_count": c.WriteCount,
			"read_bytes":  c.ReadBytes,
			"write_bytes": c.WriteBytes,
			"read_time":   c.ReadTime,
			"write_time":  c.WriteTime,
			"io_time":     c.IoTime,
		}
	}
	return out, nil
}

// Processes samples the process table: totals by state plus the heaviest
// consumers by CPU and memory.
func Processes(ctx context.Context) (any, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	type procEntry struct {
		PID    int32   `json:"pid"`
		Name   string  `json:"name"`
		CPU    float64 `json:"cpu_percent"`
		MemPct float32 `json:"memory_percent"`
	}

	states := map[string]int{}
	entries := make([]procEntry, 0, len(procs))
	for _, p := range procs {
		if st, err := p.StatusWithContext(ctx); err == nil && len(st) > 0 {
			states[st[0]]++
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		cpuPct, _ := p.CPUPercentWithContext(ctx)
		memPct, _ := p.MemoryPercentWithContext(ctx)
		entries = append(entries, procEntry{PID: p.Pid, Name: name, CPU: cpuPct, MemPct: memPct})
	}

	topCPU := topProcesses(entries, 10, func(a, b procEntry) bool { return a.CPU > b.CPU })
	topMem := topProcesses(entries, 10, func(a, b procEntry) bool { return a.MemPct > b.MemPct })

	out := map[string]any{
		"total":      len(procs),
		"states":     states,
		"top_cpu":    topCPU,
		"top_memory": topMem,
	}
	if allocated, maximum, err := fileHandles(); err == nil {
		out["file_handles_allocated"] = allocated
		out["file_handles_max"] = maximum
	}
	return out, nil
}

// fileHandles reads the kernel's file handle counters from
// /proc/sys/fs/file-nr: allocated, unused, maximum.
func fileHandles() (allocated, maximum uint64, err error) {
	raw, err := os.ReadFile("/proc/sys/fs/file-nr")
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Fields(string(raw))
	if len(fields) != 3 {
		return 0, 0, fmt.Errorf("collectors: unexpected file-nr format %q", string(raw))
	}
	if allocated, err = strconv.ParseUint(fields[0], 10, 64); err != nil {
		return 0, 0, err
	}
	if maximum, err = strconv.ParseUint(fields[2], 10, 64); err != nil {
		return 0, 0, err
	}
	return allocated, maximum, nil
}

func topProcesses[T any](entries []T, n int, less func(a, b T) bool) []T {
	sorted := append([]T(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// Uptime samples boot time and uptime seconds.
func Uptime(ctx context.Context) (any, error) {
	boot, err := host.BootTimeWithContext(ctx)
	if err != nil {
		return nil, err
	}
	up, err := host.UptimeWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"boot_time": boot, "uptime_seconds": up}, nil
}
