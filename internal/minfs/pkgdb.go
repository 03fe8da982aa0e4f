package minfs

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PackageDatabase answers ownership and manifest queries. Paths in and out
// are absolute paths inside the search root.
type PackageDatabase interface {
	// FindOwner returns the owning package, or "" when no package claims path.
	FindOwner(path string) (string, error)
	// ListFiles returns every path installed by pkg.
	ListFiles(pkg string) ([]string, error)
}

// NewPackageDatabase returns the backend selected by s.PkgDB.
func NewPackageDatabase(s *Settings, run commandRunner) (PackageDatabase, error) {
	switch s.PkgDB {
	case "rpm":
		return &rpmDatabase{root: s.SearchRoot, run: run}, nil
	case "dpkg":
		return &dpkgDatabase{root: s.SearchRoot, run: run}, nil
	case "manifest":
		return &manifestDatabase{
			root:      s.SearchRoot,
			installed: filepath.Join(s.SearchRoot, "var", "db", s.ManifestDB, "installed"),
		}, nil
	}
	return nil, fmt.Errorf("%w: package database %q", errUnknownBackend, s.PkgDB)
}

// --- rpm ---

// rpmDatabase queries an rpm database whose recorded paths carry the
// target prefix, as the cross devkits install them.
type rpmDatabase struct {
	root string
	run  commandRunner
}

// parseRPMOwner extracts the package name from `rpm -qf` output.
func parseRPMOwner(out []byte) (string, bool) {
	line := firstLine(out)
	if line == "" || strings.Contains(line, "is not owned") || strings.Contains(line, "No such file") ||
		strings.Contains(line, "not owned by any package") {
		return "", false
	}
	return line, true
}

func (r *rpmDatabase) FindOwner(path string) (string, error) {
	out, err := r.run.Output("rpm", "-qf", path)
	pkg, ok := parseRPMOwner(out)
	switch {
	case ok && err == nil:
		return pkg, nil
	case !ok && firstLine(out) != "":
		return "", nil // rpm answered, nobody owns it
	case err != nil && strings.Contains(err.Error(), "No such file"):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("rpm owner query for %s: %w", path, err)
	}
	return "", nil
}

func (r *rpmDatabase) ListFiles(pkg string) ([]string, error) {
	out, err := r.run.Output("rpm", "-ql", pkg)
	if err != nil {
		return nil, fmt.Errorf("rpm file list for %s: %w", pkg, err)
	}
	return parseFileList(r.root, out), nil
}

// --- dpkg ---

type dpkgDatabase struct {
	root string
	run  commandRunner
}

func (d *dpkgDatabase) args(a ...string) []string {
	if d.root != "/" {
		return append([]string{"--admindir=" + filepath.Join(d.root, "var", "lib", "dpkg")}, a...)
	}
	return a
}

// parseDpkgOwner extracts the first package from `dpkg -S` output
// ("coreutils: /bin/ls", "libc6:i386, libc6: /lib/x").
func parseDpkgOwner(out []byte) (string, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "diversion by") ||
			strings.HasPrefix(line, "dpkg-query:") || strings.HasPrefix(line, "dpkg:") {
			continue
		}
		idx := strings.Index(line, ": ")
		if idx <= 0 {
			continue
		}
		pkgs := strings.Split(line[:idx], ",")
		return strings.TrimSpace(pkgs[0]), true
	}
	return "", false
}

func (d *dpkgDatabase) FindOwner(path string) (string, error) {
	out, err := d.run.Output("dpkg", d.args("-S", relToRoot(d.root, path))...)
	if pkg, ok := parseDpkgOwner(out); ok {
		return pkg, nil
	}
	if err != nil && strings.Contains(err.Error(), "no path found") {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("dpkg owner query for %s: %w", path, err)
	}
	return "", nil
}

func (d *dpkgDatabase) ListFiles(pkg string) ([]string, error) {
	out, err := d.run.Output("dpkg", d.args("-L", pkg)...)
	if err != nil {
		return nil, fmt.Errorf("dpkg file list for %s: %w", pkg, err)
	}
	return parseFileList(d.root, out), nil
}

// --- installed-db manifests ---

// manifestDatabase reads the installed database of a source-based
// distribution: <installed>/<pkg>/manifest, one path per line with an
// optional checksum column and directories ending in '/'.
type manifestDatabase struct {
	root      string
	installed string
}

func readManifestPaths(manifestPath string) ([]string, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, err
	}
	var paths []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasSuffix(line, "/") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		paths = append(paths, fields[0])
	}
	return paths, scanner.Err()
}

func (m *manifestDatabase) FindOwner(path string) (string, error) {
	searchPath := relToRoot(m.root, path)

	entries, err := os.ReadDir(m.installed)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil // No packages installed
		}
		return "", fmt.Errorf("failed to read installed db: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pkgName := e.Name()
		paths, err := readManifestPaths(filepath.Join(m.installed, pkgName, "manifest"))
		if err != nil {
			continue // skip unreadable manifests
		}
		for _, p := range paths {
			if filepath.Clean("/"+strings.TrimPrefix(p, "/")) == searchPath {
				return pkgName, nil
			}
		}
	}
	return "", nil
}

func (m *manifestDatabase) ListFiles(pkg string) ([]string, error) {
	paths, err := readManifestPaths(filepath.Join(m.installed, pkg, "manifest"))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest for %s: %w", pkg, err)
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, filepath.Join(m.root, p))
	}
	return out, nil
}

// parseFileList keeps the absolute paths of a package listing, rebased under root.
func parseFileList(root string, out []byte) []string {
	var paths []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "/") || line == "/." {
			continue
		}
		paths = append(paths, rootPath(root, line))
	}
	return paths
}

func firstLine(out []byte) string {
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(line)
}
