package collectors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/luckyPipewrench/nodewarden/internal/remoteconfig"
)

// pkg is one installed package as reported by the host's package manager.
type pkg struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Packages inventories installed packages via the first supported package
// manager on PATH. Every report carries the distro and a hash of the
// inventory; the package list itself is included only when the hash differs
// from the one the API last acknowledged, so an unchanged inventory costs a
// few bytes per cycle instead of the full list.
func Packages(ctx context.Context, cfg *remoteconfig.PackagesConfig) (any, error) {
	list, err := installedPackages(ctx)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("packages: inventory came back empty")
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	hash := packagesHash(list)
	out := map[string]any{
		"distro":        distro(),
		"packages_hash": hash,
	}
	if cfg != nil && cfg.LastPackageHash == hash {
		return out, nil
	}
	out["packages"] = list
	return out, nil
}

// installedPackages queries the first supported package manager found on
// PATH. Probe order matters on hosts with more than one manager installed:
// the native one comes first.
func installedPackages(ctx context.Context) ([]pkg, error) {
	if _, err := exec.LookPath("dpkg-query"); err == nil {
		out, err := exec.CommandContext(ctx, "dpkg-query", "-W", "-f", "${Package}\t${Version}\n").Output()
		if err != nil {
			return nil, fmt.Errorf("packages: dpkg-query: %w", err)
		}
		return parseTabSeparatedPackages(string(out)), nil
	}
	if _, err := exec.LookPath("rpm"); err == nil {
		out, err := exec.CommandContext(ctx, "rpm", "-qa", "--queryformat", "%{NAME}\t%{VERSION}-%{RELEASE}\n").Output()
		if err != nil {
			return nil, fmt.Errorf("packages: rpm: %w", err)
		}
		return parseTabSeparatedPackages(string(out)), nil
	}
	if _, err := exec.LookPath("apk"); err == nil {
		out, err := exec.CommandContext(ctx, "apk", "list", "--installed").Output()
		if err != nil {
			return nil, fmt.Errorf("packages: apk list: %w", err)
		}
		return parseApkPackages(string(out)), nil
	}
	if _, err := exec.LookPath("pacman"); err == nil {
		out, err := exec.CommandContext(ctx, "pacman", "-Q").Output()
		if err != nil {
			return nil, fmt.Errorf("packages: pacman: %w", err)
		}
		return parsePacmanPackages(string(out)), nil
	}
	if _, err := exec.LookPath("synopkg"); err == nil {
		out, err := exec.CommandContext(ctx, "synopkg", "list").Output()
		if err != nil {
			return nil, fmt.Errorf("packages: synopkg list: %w", err)
		}
		return parseSynoPackages(string(out)), nil
	}
	return nil, fmt.Errorf("packages: no supported package manager on PATH")
}

// parseTabSeparatedPackages handles dpkg-query and rpm output: one
// "name\tversion" pair per line.
func parseTabSeparatedPackages(out string) []pkg {
	var pkgs []pkg
	for _, line := range strings.Split(out, "\n") {
		name, version, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		pkgs = append(pkgs, pkg{Name: name, Version: version})
	}
	return pkgs
}

// parseApkPackages handles "apk list --installed" lines such as
// "musl-1.2.4-r2 x86_64 {musl} (MIT)". The last two hyphens separate the
// version and release from the package name.
func parseApkPackages(out string) []pkg {
	var pkgs []pkg
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		nameVer, _, _ := strings.Cut(line, " ")
		i := strings.LastIndex(nameVer, "-")
		if i <= 0 {
			continue
		}
		j := strings.LastIndex(nameVer[:i], "-")
		if j <= 0 {
			pkgs = append(pkgs, pkg{Name: nameVer[:i], Version: nameVer[i+1:]})
			continue
		}
		pkgs = append(pkgs, pkg{Name: nameVer[:j], Version: nameVer[j+1:]})
	}
	return pkgs
}

// parsePacmanPackages handles "pacman -Q" output: "name version" per line.
func parsePacmanPackages(out string) []pkg {
	var pkgs []pkg
	for _, line := range strings.Split(out, "\n") {
		name, version, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		pkgs = append(pkgs, pkg{Name: name, Version: version})
	}
	return pkgs
}

// parseSynoPackages handles Synology "synopkg list" output, where the first
// two whitespace-separated fields are name and version.
func parseSynoPackages(out string) []pkg {
	var pkgs []pkg
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		pkgs = append(pkgs, pkg{Name: fields[0], Version: fields[1]})
	}
	return pkgs
}

// packagesHash fingerprints a sorted inventory. The API stores this and
// hands it back as last_package_hash so unchanged inventories are detected
// without comparing full lists.
func packagesHash(pkgs []pkg) string {
	h := sha256.New()
	for _, p := range pkgs {
		fmt.Fprintf(h, "%s=%s\n", p.Name, p.Version)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// distro identifies the host OS as "id:version_id" from /etc/os-release,
// e.g. "debian:13", or "unknown" when the file is absent or has no ID.
func distro() string {
	data, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return "unknown"
	}
	return parseOSRelease(string(data))
}

func parseOSRelease(data string) string {
	var id, version string
	for _, line := range strings.Split(data, "\n") {
		if v, ok := strings.CutPrefix(line, "ID="); ok {
			id = strings.ToLower(strings.Trim(strings.TrimSpace(v), `"`))
		} else if v, ok := strings.CutPrefix(line, "VERSION_ID="); ok {
			version = strings.ToLower(strings.Trim(strings.TrimSpace(v), `"`))
		}
	}
	if id == "" {
		return "unknown"
	}
	if version == "" {
		return id
	}
	return id + ":" + version
}
