package collectors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/luckyPipewrench/nodewarden/internal/remoteconfig"
)

func TestParseStubStatus(t *testing.T) {
	body := "Active connections: 291 \nserver accepts handled requests\n 16630948 16630948 31070465 \nReading: 6 Writing: 179 Waiting: 106 \n"
	got, err := parseStubStatus(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]int{
		"active_connections": 291,
		"accepts":            16630948,
		"handled":            16630948,
		"requests":           31070465,
		"reading":            6,
		"writing":            179,
		"waiting":            106,
	}
	for key, n := range want {
		if got[key] != n {
			t.Errorf("expected %s=%d, got %v", key, n, got[key])
		}
	}
}

func TestParseStubStatusMalformed(t *testing.T) {
	if _, err := parseStubStatus("<html>404</html>"); err == nil {
		t.Error("expected error for non-stub_status body")
	}
}

func TestNginxCollector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("Active connections: 2 \nserver accepts handled requests\n 10 10 20 \nReading: 0 Writing: 1 Waiting: 1 \n"))
	}))
	defer srv.Close()

	got, err := Nginx(context.Background(), srv.Client(), &remoteconfig.NginxConfig{StatusPageURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stats := got.(map[string]any)
	if stats["active_connections"] != 2 {
		t.Errorf("expected 2 active connections, got %v", stats["active_connections"])
	}
}

func TestNginxCollectorHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := Nginx(context.Background(), srv.Client(), &remoteconfig.NginxConfig{StatusPageURL: srv.URL}); err == nil {
		t.Error("expected error for HTTP 403")
	}
}

func TestCaddyCollector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/reverse_proxy/upstreams" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[{"address":"127.0.0.1:8080","num_requests":3,"fails":0}]`))
	}))
	defer srv.Close()

	got, err := Caddy(context.Background(), srv.Client(), &remoteconfig.CaddyConfig{AdminAPIURL: srv.URL + "/"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	upstreams := got.(map[string]any)["upstreams"].([]map[string]any)
	if len(upstreams) != 1 || upstreams[0]["address"] != "127.0.0.1:8080" {
		t.Errorf("unexpected upstreams: %v", upstreams)
	}
}

func TestParseMdstat(t *testing.T) {
	content := `Personalities : [raid1]
md0 : active raid1 sdb1[1] sda1[0]
      976630464 blocks super 1.2 [2/2] [UU]

md1 : active raid1 sdd1[1] sdc1[0](F)
      976630464 blocks super 1.2 [2/1] [U_]

unused devices: <none>
`
	arrays := parseMdstat(content)
	if len(arrays) != 2 {
		t.Fatalf("expected 2 arrays, got %d", len(arrays))
	}

	md0 := arrays[0]
	if md0["name"] != "md0" || md0["level"] != "raid1" {
		t.Errorf("unexpected md0: %v", md0)
	}
	if md0["devices_wanted"] != 2 || md0["devices_active"] != 2 {
		t.Errorf("expected md0 healthy 2/2, got %v", md0)
	}
	if md0["degraded"] != false {
		t.Errorf("expected md0 not degraded")
	}

	md1 := arrays[1]
	if md1["devices_active"] != 1 {
		t.Errorf("expected md1 1 active device, got %v", md1)
	}
	if md1["degraded"] != true {
		t.Errorf("expected md1 degraded")
	}
}

func TestParseFail2ban(t *testing.T) {
	status := `Status
|- Number of jail:      2
` + "`- Jail list:   sshd, nginx-http-auth\n"
	jails := parseFail2banJails(status)
	if len(jails) != 2 || jails[0] != "sshd" || jails[1] != "nginx-http-auth" {
		t.Errorf("unexpected jails: %v", jails)
	}

	detail := `Status for the jail: sshd
|- Filter
|  |- Currently failed: 1
|  ` + "`- Total failed:     12\n" + `- Actions
   |- Currently banned: 3
   ` + "`- Total banned:     45\n"
	if got := parseFail2banCount(detail, "Currently banned:"); got != 3 {
		t.Errorf("expected 3 currently banned, got %d", got)
	}
	if got := parseFail2banCount(detail, "Total banned:"); got != 45 {
		t.Errorf("expected 45 total banned, got %d", got)
	}
}
