// Package nginx renders the dynamic reverse-proxy fragment that gates
// access to Grafana and the per-session load generator UIs, installs it
// atomically, and triggers an nginx reload.
package nginx

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// clusterHTTPPort is where the operator's own load generator UI listens;
// it is the tool's default web port and never changes.
const clusterHTTPPort = 8089

// Snapshot is a render-ready view of the session table, built by the
// coordinator under the global state lock.
type Snapshot struct {
	// AccessSecrets lists every known session key, including renamed
	// sessions awaiting teardown (their keys can never match a cookie, so
	// listing them is harmless).
	AccessSecrets []string
	// Ports maps valid session secrets to their load generator UI ports.
	Ports []PortEntry
}

// PortEntry maps one session secret to its load generator HTTP port.
type PortEntry struct {
	Secret   string
	HTTPPort int
}

// Locker serializes fragment installation with state-file writes. The
// persistence store satisfies it.
type Locker interface {
	Locked(fn func() error) error
}

// Config carries the paths and the operator secret the writer needs.
type Config struct {
	// FragmentPath is where the rendered fragment is installed.
	FragmentPath string
	// MainConfPath is passed to nginx with -c on reload.
	MainConfPath string
	// ErrorLogPath is passed to nginx with -e on reload. Supplying it on
	// the command line suppresses a spurious warning that appears when
	// the error log lives outside the nginx prefix.
	ErrorLogPath string
	// Binary is the nginx executable name.
	Binary string
	// ClusterSecret is the operator's token: always mapped, never expires.
	ClusterSecret string
}

// Writer materializes proxy fragments.
type Writer struct {
	cfg    Config
	locker Locker

	// runCmd executes the reload command. Tests substitute a recorder.
	runCmd func(argv []string) error
}

// NewWriter returns a writer that installs fragments under the locker.
func NewWriter(cfg Config, locker Locker) *Writer {
	return &Writer{cfg: cfg, locker: locker, runCmd: runCommand}
}

// Apply renders the snapshot, atomically installs the fragment, and
// reloads nginx. Reload failure propagates; the fragment stays installed
// so the next successful reload picks it up.
func (w *Writer) Apply(snap Snapshot) error {
	content := w.render(snap)
	return w.locker.Locked(func() error {
		tmp := w.cfg.FragmentPath + ".tmp"
		if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write proxy fragment: %w", err)
		}
		if err := os.Rename(tmp, w.cfg.FragmentPath); err != nil {
			return fmt.Errorf("install proxy fragment: %w", err)
		}
		if err := w.runCmd([]string{
			w.cfg.Binary,
			"-s", "reload",
			"-c", w.cfg.MainConfPath,
			"-e", w.cfg.ErrorLogPath,
		}); err != nil {
			return fmt.Errorf("reload nginx: %w", err)
		}
		return nil
	})
}

// render produces the two map blocks. The cluster secret always leads;
// session entries are sorted so repeated renders of the same state are
// byte-identical.
func (w *Writer) render(snap Snapshot) string {
	access := append([]string(nil), snap.AccessSecrets...)
	sort.Strings(access)
	ports := append([]PortEntry(nil), snap.Ports...)
	sort.Slice(ports, func(i, j int) bool { return ports[i].Secret < ports[j].Secret })

	var b strings.Builder
	b.WriteString("map $gui_secret $grafana_access {\n")
	fmt.Fprintf(&b, "    %q 1;\n", w.cfg.ClusterSecret)
	for _, secret := range access {
		fmt.Fprintf(&b, "    %q 1;\n", secret)
	}
	b.WriteString("    default 0;\n")
	b.WriteString("}\n")
	b.WriteString("map $gui_secret $loadgen_http_port {\n")
	fmt.Fprintf(&b, "    %q %d;\n", w.cfg.ClusterSecret, clusterHTTPPort)
	for _, entry := range ports {
		fmt.Fprintf(&b, "    %q %d;\n", entry.Secret, entry.HTTPPort)
	}
	b.WriteString("    default 0;\n")
	b.WriteString("}\n")
	return b.String()
}

func runCommand(argv []string) error {
	cmd := exec.Command(argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}
