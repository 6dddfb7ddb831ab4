// Package capability probes what the agent is actually able to observe on
// this host: readable proc/sys files, reachable local sockets, and helper
// binaries on PATH. Collectors consult the probe results instead of failing
// on every cycle; a collector whose capability is absent reports
// "unavailable" once rather than erroring forever.
package capability

import (
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/luckyPipewrench/nodewarden/internal/audit"
)

// Capability names, one per probe.
const (
	ProcStat      = "proc_stat"
	ProcMeminfo   = "proc_meminfo"
	ProcNetDev    = "proc_net_dev"
	ProcDiskstats = "proc_diskstats"
	Hwmon         = "hwmon"
	DockerSocket  = "docker_socket"
	Smartctl      = "smartctl"
	Mdstat        = "mdstat"
	Fail2ban      = "fail2ban_client"
	Virsh         = "virsh"
	PkgManager    = "package_manager"
)

// reprobeInterval is how long probe results stay fresh. Capabilities change
// rarely (package installs, permission changes), so a slow cadence is fine;
// SIGHUP forces an immediate refresh.
const reprobeInterval = 5 * time.Minute

// Prober caches capability probe results and re-runs them when stale.
// Safe for concurrent use.
type Prober struct {
	log *audit.Logger

	mu        sync.Mutex
	results   map[string]bool
	probedAt  time.Time
	firstScan bool
	onChange  func(name string, available bool)
}

// NewProber creates a Prober. No probing happens until the first Has or
// Refresh call.
func NewProber(log *audit.Logger) *Prober {
	if log == nil {
		log = audit.NewNop()
	}
	return &Prober{log: log, firstScan: true}
}

// OnChange registers a callback invoked for every capability that flips
// between probes. Must be called before the first probe.
func (p *Prober) OnChange(fn func(name string, available bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

// Has reports whether the named capability was present at the last probe,
// re-probing first if the cached results are stale.
func (p *Prober) Has(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.results == nil || time.Since(p.probedAt) > reprobeInterval {
		p.refreshLocked()
	}
	return p.results[name]
}

// Snapshot returns a copy of all capability results, probing if needed.
func (p *Prober) Snapshot() map[string]bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.results == nil || time.Since(p.probedAt) > reprobeInterval {
		p.refreshLocked()
	}
	out := make(map[string]bool, len(p.results))
	for k, v := range p.results {
		out[k] = v
	}
	return out
}

// ForceRefresh re-runs all probes immediately, regardless of cache age.
// Wired to SIGHUP so operators can apply a permission fix without waiting
// for the reprobe interval.
func (p *Prober) ForceRefresh() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshLocked()
}

func (p *Prober) refreshLocked() {
	next := probeAll()
	if !p.firstScan {
		for name, now := range next {
			if before, known := p.results[name]; known && before != now {
				p.log.LogCapabilityChange(name, now)
				if p.onChange != nil {
					p.onChange(name, now)
				}
			}
		}
	}
	p.results = next
	p.probedAt = time.Now()
	p.firstScan = false
}

func probeAll() map[string]bool {
	return map[string]bool{
		ProcStat:      readable("/proc/stat"),
		ProcMeminfo:   readable("/proc/meminfo"),
		ProcNetDev:    readable("/proc/net/dev"),
		ProcDiskstats: readable("/proc/diskstats"),
		Hwmon:         dirNonEmpty("/sys/class/hwmon"),
		DockerSocket:  socketPresent("/var/run/docker.sock"),
		Smartctl:      onPath("smartctl"),
		Mdstat:        readable("/proc/mdstat"),
		Fail2ban:      onPath("fail2ban-client"),
		Virsh:         onPath("virsh"),
		PkgManager:    anyOnPath("dpkg-query", "rpm", "apk", "pacman", "synopkg"),
	}
}

func readable(path string) bool {
	f, err := os.Open(path) //nolint:gosec // fixed proc/sys paths
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

func dirNonEmpty(path string) bool {
	entries, err := os.ReadDir(path)
	return err == nil && len(entries) > 0
}

func socketPresent(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode()&os.ModeSocket != 0
}

func onPath(bin string) bool {
	_, err := exec.LookPath(bin)
	return err == nil
}

func anyOnPath(bins ...string) bool {
	for _, bin := range bins {
		if onPath(bin) {
			return true
		}
	}
	return false
}
