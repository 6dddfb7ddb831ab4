// Package remoteconfig validates and sanitizes the configuration tree the
// collection API returns with every poll. The API is treated as a partially
// untrusted configuration source: a compromised control plane must not be
// able to steer collectors at remote targets, inject protocol commands
// through credential fields, or switch off transport security.
//
// Remote is the wire-shaped, untrusted form. Validated is the only form the
// rest of the agent may consume; it is constructed exclusively by
// Validator.Validate and never mutated afterwards.
package remoteconfig

// Remote is the raw configuration tree as received from the network.
// No structural guarantee beyond "parsed as JSON". It is discarded after
// validation and never retained.
type Remote map[string]any

// Documented ranges for structural fields. Out-of-range values clamp to the
// nearest bound rather than reject.
const (
	IntervalMin = 30
	IntervalMax = 3600

	TimeoutMin = 1
	TimeoutMax = 60

	RetryMin = 1
	RetryMax = 10

	RetryIntervalMin = 1
	RetryIntervalMax = 120

	DefaultInterval      = 60
	DefaultTimeout       = 5
	DefaultRetry         = 3
	DefaultRetryInterval = 5
)

// loopbackHosts is the complete set of host spellings accepted for endpoint
// fields. These exist so operators can point a collector at a local service
// on a nonstandard port; they must never become a pivot to remote hosts, so
// no DNS resolution is involved — only exact matches.
var loopbackHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"::1":       true,
}

// allowedQemuURIs is the exact-match set of local hypervisor connection URIs.
// TCP, SSH, and every other transport disables the collector.
var allowedQemuURIs = map[string]bool{
	"qemu:///system":  true,
	"qemu:///session": true,
}

// RequestOptions bounds the agent's own HTTP behavior toward the API.
type RequestOptions struct {
	Timeout       int // seconds
	Retry         int
	RetryInterval int // seconds
}

// Flags are the boolean feature switches for collectors that take no
// parameters.
type Flags struct {
	CPU          bool
	Memory       bool
	Network      bool
	Partitions   bool
	IO           bool
	SmartStorage bool
	RAIDStorage  bool
	Processes    bool
	Temperatures bool
	Fans         bool
	Fail2ban     bool
	IPv4         bool
	IPv6         bool
}

// RedisConfig configures the Redis INFO collector.
type RedisConfig struct {
	Port     int
	Password string // CR/LF stripped by the validator
}

// NginxConfig configures the nginx stub_status collector.
type NginxConfig struct {
	StatusPageURL string // loopback-only, enforced by the validator
}

// CaddyConfig configures the Caddy admin API collector.
type CaddyConfig struct {
	AdminAPIURL string // loopback-only, enforced by the validator
}

// PostgresConfig configures the PostgreSQL collector.
type PostgresConfig struct {
	Host     string // loopback-only, enforced by the validator
	Port     int
	User     string
	Database string
	Password string // CR/LF stripped by the validator
}

// ProxmoxConfig configures the Proxmox VE API collector.
// VerifySSL is always true in a validated config: the remote config cannot
// switch off certificate verification.
type ProxmoxConfig struct {
	Host        string // loopback-only, enforced by the validator
	Port        int
	TokenID     string
	TokenSecret string
	VerifySSL   bool
}

// DockerConfig configures the Docker collector. An empty SocketURL means the
// platform default socket.
type DockerConfig struct {
	SocketURL string // unix:// only, enforced by the validator
}

// QemuConfig configures the libvirt/QEMU collector. An empty URI means the
// default system connection.
type QemuConfig struct {
	URI string // exact allow-list, enforced by the validator
}

// PortsConfig configures the listening-ports collector.
type PortsConfig struct {
	MonitoredPorts []int // each element validated into [1, 65535]
}

// PackagesConfig configures the installed-package inventory scan. The API
// echoes back the hash of the last inventory it accepted so an unchanged
// package list is not shipped again.
type PackagesConfig struct {
	Scan            bool
	LastPackageHash string
}

// Validated is the trusted configuration: every field was explicitly
// allow-listed, coerced, and bounded. Collector sub-configs are nil when the
// collector is disabled — whether by the remote config or by a validator
// decision. Immutable once constructed; a new poll produces a whole new
// value.
type Validated struct {
	Enabled        bool
	Interval       int // seconds, clamped into [IntervalMin, IntervalMax]
	RequestOptions RequestOptions

	Flags Flags

	Redis    *RedisConfig
	Nginx    *NginxConfig
	Caddy    *CaddyConfig
	Postgres *PostgresConfig
	Proxmox  *ProxmoxConfig
	Docker   *DockerConfig
	Qemu     *QemuConfig
	Ports    *PortsConfig
	Packages *PackagesConfig

	// Ping maps a region label to a host probed with a TCP connect.
	Ping map[string]string
}

// Bootstrap returns the configuration the agent runs with before the first
// successful poll: nothing enabled, conservative request options.
func Bootstrap() Validated {
	return Validated{
		Interval: DefaultInterval,
		RequestOptions: RequestOptions{
			Timeout:       DefaultTimeout,
			Retry:         DefaultRetry,
			RetryInterval: DefaultRetryInterval,
		},
	}
}

func defaultRedis() *RedisConfig { return &RedisConfig{Port: 6379} }
func defaultNginx() *NginxConfig { return &NginxConfig{StatusPageURL: "http://127.0.0.1:8080/nginx_status"} }
func defaultCaddy() *CaddyConfig { return &CaddyConfig{AdminAPIURL: "http://localhost:2019"} }
func defaultPostgres() *PostgresConfig {
	return &PostgresConfig{Host: "localhost", Port: 5432, User: "postgres", Database: "postgres"}
}
func defaultProxmox() *ProxmoxConfig { return &ProxmoxConfig{Host: "localhost", Port: 8006, VerifySSL: true} }
func defaultDocker() *DockerConfig { return &DockerConfig{} }
func defaultQemu() *QemuConfig { return &QemuConfig{} }
func defaultPackages() *PackagesConfig { return &PackagesConfig{} }

// EnabledCollectors counts the collectors this configuration turns on. Used
// for the config_applied audit event.
func (v Validated) EnabledCollectors() int {
	n := 0
	for _, on := range []bool{
		v.Flags.CPU, v.Flags.Memory, v.Flags.Network, v.Flags.Partitions,
		v.Flags.IO, v.Flags.SmartStorage, v.Flags.RAIDStorage,
		v.Flags.Processes, v.Flags.Temperatures, v.Flags.Fans,
		v.Flags.Fail2ban, v.Flags.IPv4, v.Flags.IPv6,
	} {
		if on {
			n++
		}
	}
	for _, p := range []bool{
		v.Redis != nil, v.Nginx != nil, v.Caddy != nil, v.Postgres != nil,
		v.Proxmox != nil, v.Docker != nil, v.Qemu != nil, v.Ports != nil,
		v.Packages != nil, v.Ping != nil,
	} {
		if p {
			n++
		}
	}
	return n
}

// Remote converts a validated configuration back to wire shape. Re-validating
// the result yields an identical Validated value; this is the inverse used by
// the idempotence tests and by `nodewarden check` to print the effective
// configuration.
func (v Validated) Remote() Remote {
	r := Remote{
		"enabled":  v.Enabled,
		"interval": v.Interval,
		"request_options": map[string]any{
			"timeout":        v.RequestOptions.Timeout,
			"retry":          v.RequestOptions.Retry,
			"retry_interval": v.RequestOptions.RetryInterval,
		},
	}
	flags := map[string]bool{
		"cpu":                  v.Flags.CPU,
		"memory":               v.Flags.Memory,
		"network":              v.Flags.Network,
		"partitions":           v.Flags.Partitions,
		"io":                   v.Flags.IO,
		"smart_storage_health": v.Flags.SmartStorage,
		"raid_storage_health":  v.Flags.RAIDStorage,
		"processes":            v.Flags.Processes,
		"temperatures":         v.Flags.Temperatures,
		"fans":                 v.Flags.Fans,
		"fail2ban":             v.Flags.Fail2ban,
		"ipv4":                 v.Flags.IPv4,
		"ipv6":                 v.Flags.IPv6,
	}
	for key, on := range flags {
		if on {
			r[key] = true
		}
	}
	if v.Redis != nil {
		r["redis"] = map[string]any{"port": v.Redis.Port, "password": v.Redis.Password}
	}
	if v.Nginx != nil {
		r["nginx"] = map[string]any{"status_page_url": v.Nginx.StatusPageURL}
	}
	if v.Caddy != nil {
		r["caddy"] = map[string]any{"admin_api_url": v.Caddy.AdminAPIURL}
	}
	if v.Postgres != nil {
		r["postgresql"] = map[string]any{
			"host":     v.Postgres.Host,
			"port":     v.Postgres.Port,
			"user":     v.Postgres.User,
			"database": v.Postgres.Database,
			"password": v.Postgres.Password,
		}
	}
	if v.Proxmox != nil {
		r["proxmox"] = map[string]any{
			"host":         v.Proxmox.Host,
			"port":         v.Proxmox.Port,
			"token_id":     v.Proxmox.TokenID,
			"token_secret": v.Proxmox.TokenSecret,
			"verify_ssl":   true,
		}
	}
	if v.Docker != nil {
		m := map[string]any{}
		if v.Docker.SocketURL != "" {
			m["socket_url"] = v.Docker.SocketURL
		} else {
			m["socket_url"] = nil
		}
		r["docker"] = m
	}
	if v.Qemu != nil {
		m := map[string]any{}
		if v.Qemu.URI != "" {
			m["uri"] = v.Qemu.URI
		} else {
			m["uri"] = nil
		}
		r["qemu"] = m
	}
	if v.Ports != nil {
		ports := make([]any, 0, len(v.Ports.MonitoredPorts))
		for _, p := range v.Ports.MonitoredPorts {
			ports = append(ports, p)
		}
		r["ports"] = map[string]any{"monitored_ports": ports}
	}
	if v.Packages != nil {
		m := map[string]any{"scan": v.Packages.Scan}
		if v.Packages.LastPackageHash != "" {
			m["last_package_hash"] = v.Packages.LastPackageHash
		}
		r["packages"] = m
	}
	if v.Ping != nil {
		ping := make(map[string]any, len(v.Ping))
		for region, host := range v.Ping {
			ping[region] = host
		}
		r["ping"] = ping
	}
	return r
}
