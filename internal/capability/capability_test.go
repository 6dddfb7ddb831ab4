package capability

import (
	"testing"
	"time"

	"github.com/luckyPipewrench/nodewarden/internal/audit"
)

func TestSnapshotCoversAllProbes(t *testing.T) {
	p := NewProber(audit.NewNop())
	snap := p.Snapshot()
	for _, name := range []string{
		ProcStat, ProcMeminfo, ProcNetDev, ProcDiskstats,
		Hwmon, DockerSocket, Smartctl, Mdstat, Fail2ban, Virsh,
	} {
		if _, ok := snap[name]; !ok {
			t.Errorf("expected probe result for %s", name)
		}
	}
}

func TestHasUsesCache(t *testing.T) {
	p := NewProber(audit.NewNop())
	_ = p.Has(ProcStat)
	first := p.probedAt
	_ = p.Has(ProcMeminfo)
	if p.probedAt != first {
		t.Error("expected second Has within the reprobe interval to reuse the cache")
	}
}

func TestForceRefreshReprobes(t *testing.T) {
	p := NewProber(audit.NewNop())
	_ = p.Has(ProcStat)
	first := p.probedAt
	time.Sleep(5 * time.Millisecond)
	p.ForceRefresh()
	if !p.probedAt.After(first) {
		t.Error("expected ForceRefresh to re-run probes")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	p := NewProber(audit.NewNop())
	snap := p.Snapshot()
	snap[ProcStat] = !snap[ProcStat]
	if p.Snapshot()[ProcStat] == snap[ProcStat] {
		t.Error("expected mutation of the snapshot to leave the prober untouched")
	}
}

func TestOnChangeFiresOnFlip(t *testing.T) {
	p := NewProber(audit.NewNop())
	actual := p.Snapshot()[ProcStat]

	var fired bool
	var reported bool
	p.onChange = func(name string, available bool) {
		if name == ProcStat {
			fired = true
			reported = available
		}
	}

	// Fake a prior probe result so the next refresh sees a flip.
	p.mu.Lock()
	p.results[ProcStat] = !actual
	p.mu.Unlock()

	p.ForceRefresh()
	if !fired {
		t.Fatal("expected onChange to fire for the flipped capability")
	}
	if reported != actual {
		t.Errorf("expected onChange to report %v, got %v", actual, reported)
	}
}
