// Package dispatch routes a validated configuration to the collectors it
// enables. The registry is the only place that decides which collector runs;
// its sole input is the validated config type, so raw remote data can never
// reach a collector without passing the sanitizer first.
package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/luckyPipewrench/nodewarden/internal/audit"
	"github.com/luckyPipewrench/nodewarden/internal/capability"
	"github.com/luckyPipewrench/nodewarden/internal/collectors"
	"github.com/luckyPipewrench/nodewarden/internal/metrics"
	"github.com/luckyPipewrench/nodewarden/internal/remoteconfig"
)

// ParamMode is the closed set of ways a collector receives parameters.
// There is deliberately no "raw map" mode: anything a collector consumes
// has a validated, fixed shape.
type ParamMode int

const (
	// ParamNone means the collector is switched by a boolean flag and takes
	// no parameters.
	ParamNone ParamMode = iota
	// ParamStruct means the collector takes its validated sub-config struct.
	ParamStruct
	// ParamTargets means the collector takes the validated region->host map.
	ParamTargets
)

// Status of a collector within one cycle.
const (
	StatusCollected   = "collected"
	StatusDisabled    = "disabled"
	StatusUnavailable = "unavailable"
	StatusError       = "error"
)

// Descriptor describes one collector: its payload key, its parameter mode,
// the capability it depends on (if any), and how to decide whether the
// validated config enables it.
type Descriptor struct {
	Name       string
	Mode       ParamMode
	Capability string
	Enabled    func(cfg remoteconfig.Validated) bool
	Run        func(ctx context.Context, cfg remoteconfig.Validated) (any, error)
}

// Registry holds the collector table and runs enabled collectors for each
// cycle.
type Registry struct {
	log     *audit.Logger
	metrics *metrics.Metrics
	prober  *capability.Prober
	table   []Descriptor

	bannerShown atomic.Bool
}

// New builds the registry with the full collector table. The HTTP client is
// shared by collectors that talk to local HTTP endpoints.
func New(log *audit.Logger, m *metrics.Metrics, prober *capability.Prober, httpClient *http.Client) *Registry {
	if log == nil {
		log = audit.NewNop()
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	r := &Registry{log: log, metrics: m, prober: prober}
	r.table = []Descriptor{
		{
			Name:       "cpu",
			Capability: capability.ProcStat,
			Enabled:    func(c remoteconfig.Validated) bool { return c.Flags.CPU },
			Run:        func(ctx context.Context, _ remoteconfig.Validated) (any, error) { return collectors.CPU(ctx) },
		},
		{
			Name:       "memory",
			Capability: capability.ProcMeminfo,
			Enabled:    func(c remoteconfig.Validated) bool { return c.Flags.Memory },
			Run:        func(ctx context.Context, _ remoteconfig.Validated) (any, error) { return collectors.Memory(ctx) },
		},
		{
			Name:       "network",
			Capability: capability.ProcNetDev,
			Enabled:    func(c remoteconfig.Validated) bool { return c.Flags.Network },
			Run:        func(ctx context.Context, _ remoteconfig.Validated) (any, error) { return collectors.Network(ctx) },
		},
		{
			Name:    "partitions",
			Enabled: func(c remoteconfig.Validated) bool { return c.Flags.Partitions },
			Run:     func(ctx context.Context, _ remoteconfig.Validated) (any, error) { return collectors.Partitions(ctx) },
		},
		{
			Name:       "io",
			Capability: capability.ProcDiskstats,
			Enabled:    func(c remoteconfig.Validated) bool { return c.Flags.IO },
			Run:        func(ctx context.Context, _ remoteconfig.Validated) (any, error) { return collectors.IO(ctx) },
		},
		{
			Name:    "processes",
			Enabled: func(c remoteconfig.Validated) bool { return c.Flags.Processes },
			Run:     func(ctx context.Context, _ remoteconfig.Validated) (any, error) { return collectors.Processes(ctx) },
		},
		{
			Name:    "uptime",
			Enabled: func(remoteconfig.Validated) bool { return true },
			Run:     func(ctx context.Context, _ remoteconfig.Validated) (any, error) { return collectors.Uptime(ctx) },
		},
		{
			Name:       "temperatures",
			Capability: capability.Hwmon,
			Enabled:    func(c remoteconfig.Validated) bool { return c.Flags.Temperatures },
			Run:        func(ctx context.Context, _ remoteconfig.Validated) (any, error) { return collectors.Temperatures(ctx) },
		},
		{
			Name:       "fans",
			Capability: capability.Hwmon,
			Enabled:    func(c remoteconfig.Validated) bool { return c.Flags.Fans },
			Run:        func(ctx context.Context, _ remoteconfig.Validated) (any, error) { return collectors.Fans(ctx) },
		},
		{
			Name:       "smart_storage_health",
			Capability: capability.Smartctl,
			Enabled:    func(c remoteconfig.Validated) bool { return c.Flags.SmartStorage },
			Run:        func(ctx context.Context, _ remoteconfig.Validated) (any, error) { return collectors.Smart(ctx) },
		},
		{
			Name:       "raid_storage_health",
			Capability: capability.Mdstat,
			Enabled:    func(c remoteconfig.Validated) bool { return c.Flags.RAIDStorage },
			Run:        func(ctx context.Context, _ remoteconfig.Validated) (any, error) { return collectors.RAID(ctx) },
		},
		{
			Name:       "fail2ban",
			Capability: capability.Fail2ban,
			Enabled:    func(c remoteconfig.Validated) bool { return c.Flags.Fail2ban },
			Run:        func(ctx context.Context, _ remoteconfig.Validated) (any, error) { return collectors.Fail2ban(ctx) },
		},
		{
			Name:    "ipv4",
			Enabled: func(c remoteconfig.Validated) bool { return c.Flags.IPv4 },
			Run:     func(ctx context.Context, _ remoteconfig.Validated) (any, error) { return collectors.IPv4(ctx) },
		},
		{
			Name:    "ipv6",
			Enabled: func(c remoteconfig.Validated) bool { return c.Flags.IPv6 },
			Run:     func(ctx context.Context, _ remoteconfig.Validated) (any, error) { return collectors.IPv6(ctx) },
		},
		{
			Name:    "redis",
			Mode:    ParamStruct,
			Enabled: func(c remoteconfig.Validated) bool { return c.Redis != nil },
			Run: func(ctx context.Context, c remoteconfig.Validated) (any, error) {
				return collectors.Redis(ctx, c.Redis)
			},
		},
		{
			Name:    "nginx",
			Mode:    ParamStruct,
			Enabled: func(c remoteconfig.Validated) bool { return c.Nginx != nil },
			Run: func(ctx context.Context, c remoteconfig.Validated) (any, error) {
				return collectors.Nginx(ctx, httpClient, c.Nginx)
			},
		},
		{
			Name:    "caddy",
			Mode:    ParamStruct,
			Enabled: func(c remoteconfig.Validated) bool { return c.Caddy != nil },
			Run: func(ctx context.Context, c remoteconfig.Validated) (any, error) {
				return collectors.Caddy(ctx, httpClient, c.Caddy)
			},
		},
		{
			Name:    "postgresql",
			Mode:    ParamStruct,
			Enabled: func(c remoteconfig.Validated) bool { return c.Postgres != nil },
			Run: func(ctx context.Context, c remoteconfig.Validated) (any, error) {
				return collectors.Postgres(ctx, c.Postgres)
			},
		},
		{
			Name:    "proxmox",
			Mode:    ParamStruct,
			Enabled: func(c remoteconfig.Validated) bool { return c.Proxmox != nil },
			Run: func(ctx context.Context, c remoteconfig.Validated) (any, error) {
				return collectors.Proxmox(ctx, httpClient, c.Proxmox)
			},
		},
		{
			Name:       "docker",
			Mode:       ParamStruct,
			Capability: capability.DockerSocket,
			Enabled:    func(c remoteconfig.Validated) bool { return c.Docker != nil },
			Run: func(ctx context.Context, c remoteconfig.Validated) (any, error) {
				return collectors.Docker(ctx, c.Docker)
			},
		},
		{
			Name:       "qemu",
			Mode:       ParamStruct,
			Capability: capability.Virsh,
			Enabled:    func(c remoteconfig.Validated) bool { return c.Qemu != nil },
			Run: func(ctx context.Context, c remoteconfig.Validated) (any, error) {
				return collectors.Qemu(ctx, c.Qemu)
			},
		},
		{
			Name:    "ports",
			Mode:    ParamStruct,
			Enabled: func(c remoteconfig.Validated) bool { return c.Ports != nil },
			Run: func(ctx context.Context, c remoteconfig.Validated) (any, error) {
				return collectors.Ports(ctx, c.Ports)
			},
		},
		{
			Name:       "packages",
			Mode:       ParamStruct,
			Capability: capability.PkgManager,
			Enabled:    func(c remoteconfig.Validated) bool { return c.Packages != nil && c.Packages.Scan },
			Run: func(ctx context.Context, c remoteconfig.Validated) (any, error) {
				return collectors.Packages(ctx, c.Packages)
			},
		},
		{
			Name:    "ping",
			Mode:    ParamTargets,
			Enabled: func(c remoteconfig.Validated) bool { return c.Ping != nil },
			Run: func(ctx context.Context, c remoteconfig.Validated) (any, error) {
				return collectors.Ping(ctx, c.Ping)
			},
		},
	}
	return r
}

// Result is the outcome of one cycle: the metric payload plus per-collector
// statuses.
type Result struct {
	Data     map[string]any
	Statuses map[string]string
}

// Collect runs every enabled collector against the validated config and
// assembles the cycle payload. A collector that errors, times out, or panics
// affects only its own entry.
func (r *Registry) Collect(ctx context.Context, cfg remoteconfig.Validated) Result {
	res := Result{
		Data:     map[string]any{},
		Statuses: map[string]string{},
	}
	perCollector := time.Duration(cfg.RequestOptions.Timeout) * time.Second

	for _, d := range r.table {
		if !d.Enabled(cfg) {
			res.Statuses[d.Name] = StatusDisabled
			continue
		}
		if d.Capability != "" && r.prober != nil && !r.prober.Has(d.Capability) {
			res.Statuses[d.Name] = StatusUnavailable
			continue
		}

		value, err := r.runOne(ctx, d, cfg, perCollector)
		if err != nil {
			res.Statuses[d.Name] = StatusError
			r.log.LogCollectorError(d.Name, err)
			if r.metrics != nil {
				r.metrics.RecordCollectorFailure(d.Name)
			}
			continue
		}
		res.Data[d.Name] = value
		res.Statuses[d.Name] = StatusCollected
	}

	r.logBanner(res.Statuses)
	return res
}

// runOne executes a single collector under its own deadline and converts
// panics into errors.
func (r *Registry) runOne(ctx context.Context, d Descriptor, cfg remoteconfig.Validated, timeout time.Duration) (value any, err error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("collector %s panicked: %v", d.Name, rec)
		}
	}()
	return d.Run(runCtx, cfg)
}

// logBanner logs the per-collector availability once at startup so operators
// can see at a glance what this host will report.
func (r *Registry) logBanner(statuses map[string]string) {
	if !r.bannerShown.CompareAndSwap(false, true) {
		return
	}
	for _, d := range r.table {
		status := statuses[d.Name]
		reason := ""
		if status == StatusUnavailable {
			reason = "missing capability: " + d.Capability
		}
		r.log.LogBannerLine(d.Name, status, reason)
	}
}

// ResetBanner makes the next Collect log the capability banner again. Called
// after a capability re-probe so operators see the refreshed availability.
func (r *Registry) ResetBanner() {
	r.bannerShown.Store(false)
}

// Names returns the collector names in table order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.table))
	for _, d := range r.table {
		names = append(names, d.Name)
	}
	return names
}
