package minfs

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

// fakeDB is an in-memory package database keyed by absolute path.
type fakeDB struct {
	owners map[string]string
	files  map[string][]string
	err    error
}

func (f *fakeDB) FindOwner(path string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.owners[path], nil
}

func (f *fakeDB) ListFiles(pkg string) ([]string, error) {
	return f.files[pkg], nil
}

type fakeLinker struct {
	deps map[string][]Dependency
	err  map[string]error
}

func (f *fakeLinker) DependenciesOf(binary string) ([]Dependency, error) {
	if err := f.err[binary]; err != nil {
		return nil, err
	}
	return f.deps[binary], nil
}

type fakeProber map[string]string

func (f fakeProber) Describe(path string) (string, error) {
	d, ok := f[path]
	if !ok {
		return "", errors.New("no such file")
	}
	return d, nil
}

// writeTree creates files (relative path -> content) under root.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", filepath.Dir(p), err)
		}
		if err := os.WriteFile(p, []byte(content), 0o755); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
}

func symlink(t *testing.T, target, link string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("symlink %s -> %s: %v", link, target, err)
	}
}

func newTestAggregator(root string, db PackageDatabase, linker LinkerIntrospector, prober ContentProber) *Aggregator {
	ws := newWarnings(io.Discard)
	return &Aggregator{
		Root:    root,
		Locator: &Locator{Root: root, DB: db, Policy: "last"},
		Resolver: &Resolver{
			Root:       root,
			DB:         db,
			Linker:     linker,
			Prober:     prober,
			Classifier: NewClassifier(32),
			warn:       ws.add,
		},
		Canonicalizer: NewCanonicalizer(root, 0),
		warnings:      ws,
	}
}

func asSet(paths []string) map[string]bool {
	m := make(map[string]bool, len(paths))
	for _, p := range paths {
		m[p] = true
	}
	return m
}
