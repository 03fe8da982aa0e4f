package minfs

import (
	"bufio"
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Dependency is one shared object a binary needs at run time.
type Dependency struct {
	Name     string // soname as requested ("libc.so.6")
	Path     string // absolute path inside the search root; empty when unresolved
	Resolved bool
}

// LinkerIntrospector reports the transitive shared-library dependencies of a binary.
type LinkerIntrospector interface {
	DependenciesOf(binary string) ([]Dependency, error)
}

// NewLinkerIntrospector returns the backend selected by s.Linker.
func NewLinkerIntrospector(s *Settings, exec *Executor) (LinkerIntrospector, error) {
	switch s.Linker {
	case "ldd":
		// The cross ldd script resolves against LDD_ROOT_BASE instead of the host.
		lddExec := *exec
		lddExec.Env = append(append([]string{}, exec.Env...), "LDD_ROOT_BASE="+s.SearchRoot)
		return &lddIntrospector{root: s.SearchRoot, ldd: s.LddPath, run: &lddExec}, nil
	case "elf":
		return newELFIntrospector(s.SearchRoot), nil
	}
	return nil, fmt.Errorf("%w: linker %q", errUnknownBackend, s.Linker)
}

// --- ldd ---

type lddIntrospector struct {
	root string
	ldd  string
	run  commandRunner
}

func (l *lddIntrospector) DependenciesOf(binary string) ([]Dependency, error) {
	out, err := l.run.Output(l.ldd, binary)
	if err != nil {
		// ldd exits non-zero for static binaries and scripts
		if strings.Contains(string(out), "not a dynamic executable") || strings.Contains(err.Error(), "not a dynamic executable") {
			return nil, nil
		}
		return nil, fmt.Errorf("ldd %s: %w", binary, err)
	}
	return parseLddOutput(l.root, out), nil
}

// parseLddOutput understands the three line shapes ldd prints:
//
//	libc.so.6 => /lib/libc.so.6 (0x2aaa8000)
//	libfoo.so.1 => not found
//	/lib/ld-linux.so.2 (0x2aaa0000)
//
// Virtual objects without a path (linux-vdso, linux-gate) are skipped.
func parseLddOutput(root string, out []byte) []Dependency {
	var deps []Dependency
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		name, rest, found := strings.Cut(line, "=>")
		if !found {
			fields := strings.Fields(line)
			if len(fields) > 0 && strings.HasPrefix(fields[0], "/") {
				deps = append(deps, Dependency{
					Name:     filepath.Base(fields[0]),
					Path:     rootPath(root, fields[0]),
					Resolved: true,
				})
			}
			continue
		}
		name = strings.TrimSpace(name)
		rest = strings.TrimSpace(rest)
		if strings.HasPrefix(rest, "not found") {
			deps = append(deps, Dependency{Name: name})
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
			continue
		}
		deps = append(deps, Dependency{
			Name:     name,
			Path:     rootPath(root, fields[0]),
			Resolved: true,
		})
	}
	return deps
}

// --- debug/elf ---

// defaultLibDirs are searched after the directories named in ld.so.conf,
// as the dynamic loader does.
var defaultLibDirs = []string{"/lib", "/usr/lib", "/lib64", "/usr/lib64"}

// elfIntrospector walks DT_NEEDED entries itself. It needs no host tool, so
// it also works for foreign-architecture targets without a cross ldd.
type elfIntrospector struct {
	root    string
	libDirs []string // target-absolute
}

func newELFIntrospector(root string) *elfIntrospector {
	dirs := readLdSoConf(root, "/etc/ld.so.conf", 0)
	return &elfIntrospector{
		root:    root,
		libDirs: newPathSet(append(dirs, defaultLibDirs...)...).slice(),
	}
}

// readLdSoConf returns the library directories listed in the target's
// ld.so.conf, following include directives. conf is target-absolute.
func readLdSoConf(root, conf string, depth int) []string {
	if depth > 8 {
		return nil
	}
	data, err := os.ReadFile(resolveInRoot(root, rootPath(root, conf)))
	if err != nil {
		return nil
	}
	var dirs []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line, _, _ := strings.Cut(scanner.Text(), "#")
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ' ' || r == '\t' || r == ':' || r == ','
		})
		if len(fields) == 0 || fields[0] == "hwcap" {
			continue
		}
		if fields[0] != "include" {
			for _, f := range fields {
				if filepath.IsAbs(f) {
					dirs = append(dirs, filepath.Clean(f))
				}
			}
			continue
		}
		for _, pattern := range fields[1:] {
			if !filepath.IsAbs(pattern) {
				pattern = filepath.Join(filepath.Dir(conf), pattern)
			}
			matches, _ := filepath.Glob(filepath.Join(globEscape(root), pattern))
			for _, m := range matches {
				dirs = append(dirs, readLdSoConf(root, relToRoot(root, m), depth+1)...)
			}
		}
	}
	return dirs
}

// elfObject is what the loader needs to know about one object.
type elfObject struct {
	class   elf.Class
	machine elf.Machine
	interp  string
	needed  []string
	rpath   []string
	runpath []string
}

func readELFObject(path string) (*elfObject, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	obj := &elfObject{class: f.Class, machine: f.Machine}
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_INTERP {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err == nil {
			obj.interp = string(bytes.TrimRight(data, "\x00"))
		}
	}
	// nil without a dynamic section: statically linked
	if obj.needed, err = f.ImportedLibraries(); err != nil {
		return obj, nil
	}
	for tag, dst := range map[elf.DynTag]*[]string{elf.DT_RPATH: &obj.rpath, elf.DT_RUNPATH: &obj.runpath} {
		vals, err := f.DynString(tag)
		if err != nil {
			continue
		}
		for _, v := range vals {
			*dst = append(*dst, strings.Split(v, ":")...)
		}
	}
	return obj, nil
}

// searchDirs returns the per-object directories searched before the
// system ones: DT_RPATH only when there is no DT_RUNPATH, then
// DT_RUNPATH, with $ORIGIN expanded to origin.
func (o *elfObject) searchDirs(origin string) []string {
	var dirs []string
	add := func(list []string) {
		for _, d := range list {
			d = strings.ReplaceAll(d, "${ORIGIN}", origin)
			d = strings.ReplaceAll(d, "$ORIGIN", origin)
			if filepath.IsAbs(d) {
				dirs = append(dirs, filepath.Clean(d))
			}
		}
	}
	if len(o.runpath) == 0 {
		add(o.rpath)
	}
	add(o.runpath)
	return dirs
}

// compatible reports whether the file at p is an ELF object the requester
// can load. Linker scripts and other-class libraries are skipped.
func (x *elfIntrospector) compatible(p string, req *elfObject) bool {
	f, err := elf.Open(resolveInRoot(x.root, p))
	if err != nil {
		return false
	}
	defer f.Close()
	return f.Class == req.class && f.Machine == req.machine
}

func (x *elfIntrospector) find(name string, req *elfObject, origin string) (string, bool) {
	if strings.Contains(name, "/") {
		p := rootPath(x.root, name)
		_, err := os.Lstat(p)
		return p, err == nil
	}
	for _, dir := range append(req.searchDirs(origin), x.libDirs...) {
		p := filepath.Join(x.root, dir, name)
		if _, err := os.Lstat(p); err == nil && x.compatible(p, req) {
			return p, true
		}
	}
	return "", false
}

func (x *elfIntrospector) DependenciesOf(binary string) ([]Dependency, error) {
	type item struct{ file, origin string }

	var deps []Dependency
	seen := make(map[string]bool)
	queue := []item{{file: binary, origin: relToRoot(x.root, filepath.Dir(binary))}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		obj, err := readELFObject(cur.file)
		if err != nil {
			if cur.file == binary {
				var fe *elf.FormatError
				if errors.As(err, &fe) {
					return nil, nil // scripts and data have no dependencies
				}
				return nil, fmt.Errorf("read ELF %s: %w", binary, err)
			}
			debugf("skipping unreadable library %s: %v\n", cur.file, err)
			continue
		}
		needed := obj.needed
		if obj.interp != "" {
			needed = append([]string{obj.interp}, needed...)
		}
		for _, name := range needed {
			base := filepath.Base(name)
			if seen[base] {
				continue
			}
			seen[base] = true
			p, ok := x.find(name, obj, cur.origin)
			if !ok {
				deps = append(deps, Dependency{Name: base})
				continue
			}
			deps = append(deps, Dependency{Name: base, Path: p, Resolved: true})
			queue = append(queue, item{
				file:   resolveInRoot(x.root, p),
				origin: relToRoot(x.root, filepath.Dir(p)),
			})
		}
	}
	return deps, nil
}
