package remoteconfig

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/luckyPipewrench/nodewarden/internal/audit"
)

// Decision labels reported to the observer for each sanitization outcome.
const (
	DecisionDisabled = "disabled"
	DecisionClamped  = "clamped"
	DecisionForced   = "forced"
	DecisionDropped  = "dropped"
)

// Observer is notified of every rejection/forcing decision the validator
// makes, keyed by the field or collector involved. Used to feed self-metrics
// without coupling this package to the metrics registry.
type Observer func(field, decision string)

// Validator converts Remote to Validated. It performs no I/O and touches no
// global state; its only side effects are diagnostic log entries and observer
// callbacks, which keeps it unit-testable field by field.
type Validator struct {
	log *audit.Logger
	obs Observer
}

// Option configures a Validator.
type Option func(*Validator)

// WithObserver registers a decision observer.
func WithObserver(obs Observer) Option {
	return func(v *Validator) {
		v.obs = obs
	}
}

// New creates a Validator that reports decisions through log.
func New(log *audit.Logger, opts ...Option) *Validator {
	if log == nil {
		log = audit.NewNop()
	}
	v := &Validator{log: log}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Validator) decide(field, decision string) {
	if v.obs != nil {
		v.obs(field, decision)
	}
}

// Validate converts an untrusted Remote tree into a Validated configuration.
// It is total — any input yields a usable result — and idempotent: validating
// the Remote() form of its own output is a no-op. A malicious or malformed
// sub-field disables only that collector; sibling fields are unaffected.
func (v *Validator) Validate(raw Remote) Validated {
	out := Validated{}

	out.Enabled = truthy(raw["enabled"])
	out.Interval = v.clamp("interval", raw["interval"], IntervalMin, IntervalMax, DefaultInterval)
	out.RequestOptions = v.requestOptions(raw["request_options"])

	out.Flags = Flags{
		CPU:          truthy(raw["cpu"]),
		Memory:       truthy(raw["memory"]),
		Network:      truthy(raw["network"]),
		Partitions:   truthy(raw["partitions"]),
		IO:           truthy(raw["io"]),
		SmartStorage: truthy(raw["smart_storage_health"]),
		RAIDStorage:  truthy(raw["raid_storage_health"]),
		Processes:    truthy(raw["processes"]),
		Temperatures: truthy(raw["temperatures"]),
		Fans:         truthy(raw["fans"]),
		Fail2ban:     truthy(raw["fail2ban"]),
		IPv4:         truthy(raw["ipv4"]),
		IPv6:         truthy(raw["ipv6"]),
	}

	out.Redis = v.redis(raw["redis"])
	out.Nginx = v.nginx(raw["nginx"])
	out.Caddy = v.caddy(raw["caddy"])
	out.Postgres = v.postgres(raw["postgresql"])
	out.Proxmox = v.proxmox(raw["proxmox"])
	out.Docker = v.docker(raw["docker"])
	out.Qemu = v.qemu(raw["qemu"])
	out.Ports = v.ports(raw["ports"])
	out.Packages = v.packages(raw["packages"])
	out.Ping = v.ping(raw["ping"])

	return out
}

// section interprets a raw collector value the way the dispatch layer
// expects: falsy means disabled, a non-empty map means configured, any other
// truthy scalar means enabled with defaults (nil map).
func section(raw any) (map[string]any, bool) {
	if !truthy(raw) {
		return nil, false
	}
	if m, ok := raw.(map[string]any); ok {
		return m, true
	}
	return nil, true
}

func (v *Validator) redis(raw any) *RedisConfig {
	m, enabled := section(raw)
	if !enabled {
		return nil
	}
	cfg := defaultRedis()
	if m == nil {
		return cfg
	}

	if rv, present := field(m, "port"); present {
		port, ok := asInt(rv)
		if !ok || port < 1 || port > 65535 {
			v.disable("redis", "port", rv, "port invalid or out of range")
			return nil
		}
		cfg.Port = port
	}
	if rv, present := field(m, "password"); present {
		pw, ok := rv.(string)
		if !ok {
			v.disable("redis", "password", rv, "password must be a string")
			return nil
		}
		cfg.Password = stripCRLF(pw)
	}
	return cfg
}

func (v *Validator) nginx(raw any) *NginxConfig {
	m, enabled := section(raw)
	if !enabled {
		return nil
	}
	cfg := defaultNginx()
	if m == nil {
		return cfg
	}

	if rv, present := field(m, "status_page_url"); present {
		u, ok := rv.(string)
		if !ok || !isLoopbackURL(u) {
			v.disable("nginx", "status_page_url", rv, "host is not loopback")
			return nil
		}
		cfg.StatusPageURL = u
	}
	return cfg
}

func (v *Validator) caddy(raw any) *CaddyConfig {
	m, enabled := section(raw)
	if !enabled {
		return nil
	}
	cfg := defaultCaddy()
	if m == nil {
		return cfg
	}

	if rv, present := field(m, "admin_api_url"); present {
		u, ok := rv.(string)
		if !ok || !isLoopbackURL(u) {
			v.disable("caddy", "admin_api_url", rv, "host is not loopback")
			return nil
		}
		cfg.AdminAPIURL = u
	}
	return cfg
}

func (v *Validator) postgres(raw any) *PostgresConfig {
	m, enabled := section(raw)
	if !enabled {
		return nil
	}
	cfg := defaultPostgres()
	if m == nil {
		return cfg
	}

	if rv, present := field(m, "host"); present {
		host, ok := rv.(string)
		if !ok || !isLoopbackHost(host) {
			v.disable("postgresql", "host", rv, "host is not loopback")
			return nil
		}
		cfg.Host = host
	}
	if rv, present := field(m, "port"); present {
		port, ok := asInt(rv)
		if !ok || port < 1 || port > 65535 {
			v.disable("postgresql", "port", rv, "port invalid or out of range")
			return nil
		}
		cfg.Port = port
	}
	if rv, present := field(m, "user"); present {
		user, ok := rv.(string)
		if !ok {
			v.disable("postgresql", "user", rv, "user must be a string")
			return nil
		}
		cfg.User = user
	}
	if rv, present := field(m, "database"); present {
		db, ok := rv.(string)
		if !ok {
			v.disable("postgresql", "database", rv, "database must be a string")
			return nil
		}
		cfg.Database = db
	}
	if rv, present := field(m, "password"); present {
		pw, ok := rv.(string)
		if !ok {
			v.disable("postgresql", "password", rv, "password must be a string")
			return nil
		}
		cfg.Password = stripCRLF(pw)
	}
	return cfg
}

func (v *Validator) proxmox(raw any) *ProxmoxConfig {
	m, enabled := section(raw)
	if !enabled {
		return nil
	}
	cfg := defaultProxmox()
	if m == nil {
		return cfg
	}

	if rv, present := field(m, "host"); present {
		host, ok := rv.(string)
		if !ok || !isLoopbackHost(host) {
			v.disable("proxmox", "host", rv, "host is not loopback")
			return nil
		}
		cfg.Host = host
	}
	if rv, present := field(m, "port"); present {
		port, ok := asInt(rv)
		if !ok || port < 1 || port > 65535 {
			v.disable("proxmox", "port", rv, "port invalid or out of range")
			return nil
		}
		cfg.Port = port
	}
	if rv, present := field(m, "token_id"); present {
		id, ok := rv.(string)
		if !ok {
			v.disable("proxmox", "token_id", rv, "token_id must be a string")
			return nil
		}
		cfg.TokenID = id
	}
	if rv, present := field(m, "token_secret"); present {
		secret, ok := rv.(string)
		if !ok {
			v.disable("proxmox", "token_secret", rv, "token_secret must be a string")
			return nil
		}
		cfg.TokenSecret = secret
	}
	// verify_ssl is pinned: the output is always true no matter what the
	// remote config asked for.
	if rv, present := field(m, "verify_ssl"); present {
		if b, ok := rv.(bool); ok && !b {
			v.log.LogUnsafeFlagForced("proxmox", "verify_ssl")
			v.decide("proxmox.verify_ssl", DecisionForced)
		}
	}
	cfg.VerifySSL = true
	return cfg
}

func (v *Validator) docker(raw any) *DockerConfig {
	m, enabled := section(raw)
	if !enabled {
		return nil
	}
	cfg := defaultDocker()
	if m == nil {
		return cfg
	}

	if rv, present := field(m, "socket_url"); present {
		u, ok := rv.(string)
		if !ok || !strings.HasPrefix(u, "unix://") {
			v.disable("docker", "socket_url", rv, "scheme not allowed, must be unix://")
			return nil
		}
		cfg.SocketURL = u
	}
	return cfg
}

func (v *Validator) qemu(raw any) *QemuConfig {
	m, enabled := section(raw)
	if !enabled {
		return nil
	}
	cfg := defaultQemu()
	if m == nil {
		return cfg
	}

	if rv, present := field(m, "uri"); present {
		u, ok := rv.(string)
		if !ok || !allowedQemuURIs[u] {
			v.disable("qemu", "uri", rv, "uri not in allow-list")
			return nil
		}
		cfg.URI = u
	}
	return cfg
}

func (v *Validator) ports(raw any) *PortsConfig {
	m, enabled := section(raw)
	if !enabled {
		return nil
	}
	cfg := &PortsConfig{MonitoredPorts: []int{}}
	if m == nil {
		return cfg
	}

	rv, present := field(m, "monitored_ports")
	if !present {
		return cfg
	}
	list, ok := rv.([]any)
	if !ok {
		v.disable("ports", "monitored_ports", rv, "monitored_ports must be a list")
		return nil
	}
	for _, el := range list {
		port, ok := asInt(el)
		if !ok {
			v.log.LogFieldDropped("ports.monitored_ports", display(el), "not an integer")
			v.decide("ports.monitored_ports", DecisionDropped)
			continue
		}
		if port < 1 || port > 65535 {
			v.log.LogFieldDropped("ports.monitored_ports", display(el), "port out of range")
			v.decide("ports.monitored_ports", DecisionDropped)
			continue
		}
		cfg.MonitoredPorts = append(cfg.MonitoredPorts, port)
	}
	return cfg
}

func (v *Validator) packages(raw any) *PackagesConfig {
	m, enabled := section(raw)
	if !enabled {
		return nil
	}
	cfg := defaultPackages()
	if m == nil {
		return cfg
	}

	if rv, present := field(m, "scan"); present {
		cfg.Scan = truthy(rv)
	}
	if rv, present := field(m, "last_package_hash"); present {
		h, ok := rv.(string)
		if !ok {
			v.disable("packages", "last_package_hash", rv, "last_package_hash must be a string")
			return nil
		}
		cfg.LastPackageHash = h
	}
	return cfg
}

func (v *Validator) ping(raw any) map[string]string {
	if !truthy(raw) {
		return nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		v.disable("ping", "ping", raw, "ping config must be a map")
		return nil
	}
	out := map[string]string{}
	for region, hv := range m {
		host, ok := hv.(string)
		if !ok || host == "" {
			v.log.LogFieldDropped("ping."+region, display(hv), "host must be a non-empty string")
			v.decide("ping", DecisionDropped)
			continue
		}
		out[region] = host
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (v *Validator) requestOptions(raw any) RequestOptions {
	m, _ := raw.(map[string]any)
	opts := RequestOptions{}
	opts.Timeout = v.clamp("request_options.timeout", valueOf(m, "timeout"), TimeoutMin, TimeoutMax, DefaultTimeout)
	opts.Retry = v.clamp("request_options.retry", valueOf(m, "retry"), RetryMin, RetryMax, DefaultRetry)
	opts.RetryInterval = v.clamp("request_options.retry_interval", valueOf(m, "retry_interval"), RetryIntervalMin, RetryIntervalMax, DefaultRetryInterval)
	return opts
}

// clamp coerces raw to an integer and forces it into [lo, hi]. Values that
// fail coercion take the default; out-of-range values clamp to the nearest
// bound and are logged.
func (v *Validator) clamp(fieldName string, raw any, lo, hi, def int) int {
	if raw == nil {
		return def
	}
	n, ok := asInt(raw)
	if !ok {
		return def
	}
	if n < lo {
		v.log.LogFieldClamped(fieldName, n, lo)
		v.decide(fieldName, DecisionClamped)
		return lo
	}
	if n > hi {
		v.log.LogFieldClamped(fieldName, n, hi)
		v.decide(fieldName, DecisionClamped)
		return hi
	}
	return n
}

func (v *Validator) disable(collector, fieldName string, value any, reason string) {
	v.log.LogCollectorDisabled(collector, fieldName, display(value), reason)
	v.decide(collector, DecisionDisabled)
}

// field looks up a key and treats an explicit null the same as absent.
func field(m map[string]any, key string) (any, bool) {
	rv, present := m[key]
	if !present || rv == nil {
		return nil, false
	}
	return rv, true
}

func valueOf(m map[string]any, key string) any {
	if m == nil {
		return nil
	}
	return m[key]
}

// stripCRLF removes protocol-delimiter control characters from a credential
// string, closing command injection for any downstream code that builds a
// line-oriented wire command from it.
func stripCRLF(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return -1
		}
		return r
	}, s)
}

func isLoopbackHost(host string) bool {
	return loopbackHosts[strings.ToLower(host)]
}

// isLoopbackURL accepts a URL iff its host component is exactly localhost,
// 127.0.0.1, or ::1. Redirect-prone hostnames, other IP literals, and
// cloud-metadata addresses all fail the exact match.
func isLoopbackURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return isLoopbackHost(u.Hostname())
}

// asInt coerces JSON-decoded scalars to int. Accepts native integers, floats
// with truncation, and numeric strings, mirroring what operators actually put
// in config trees.
func asInt(raw any) (int, bool) {
	switch n := raw.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// truthy mirrors the wire semantics for enable switches: absent, null, false,
// zero, empty string, and empty containers all mean "off".
func truthy(raw any) bool {
	switch t := raw.(type) {
	case nil:
		return false
	case bool:
		return t
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func display(raw any) string {
	return fmt.Sprintf("%v", raw)
}
