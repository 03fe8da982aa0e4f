package minfs

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
)

// lsFixture is a target tree with ls, cat and their packages: ls pulls in
// libc through the linker and /etc/ls.conf through its manifest.
type lsFixture struct {
	root   string
	db     *fakeDB
	linker *fakeLinker
	prober fakeProber
}

func newLsFixture(t *testing.T) *lsFixture {
	t.Helper()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"bin/ls":                "elf",
		"bin/cat":               "elf",
		"lib/libc.so.6":         "elf",
		"etc/ls.conf":           "colors",
		"usr/share/doc/ls/NEWS": "news",
		"etc/passwd":            "root:x:0:0::/root:/bin/sh\n",
	})
	p := func(rel string) string { return filepath.Join(root, rel) }

	libc := Dependency{Name: "libc.so.6", Path: p("lib/libc.so.6"), Resolved: true}
	return &lsFixture{
		root: root,
		db: &fakeDB{
			owners: map[string]string{
				p("bin/ls"):  "coreutils-ls",
				p("bin/cat"): "coreutils-cat",
			},
			files: map[string][]string{
				"coreutils-ls":  {p("bin/ls"), p("etc/ls.conf"), p("usr/share/doc/ls/NEWS"), p("etc/ls.d")},
				"coreutils-cat": {p("bin/cat")},
			},
		},
		linker: &fakeLinker{deps: map[string][]Dependency{
			p("bin/ls"):  {libc},
			p("bin/cat"): {libc},
		}},
		prober: fakeProber{
			p("bin/ls"):                "ELF 32-bit LSB executable",
			p("bin/cat"):               "ELF 32-bit LSB executable",
			p("etc/ls.conf"):           "ASCII text",
			p("usr/share/doc/ls/NEWS"): "ASCII text",
			// etc/ls.d is missing on disk and has no descriptor
		},
	}
}

func (f *lsFixture) aggregator() *Aggregator {
	return newTestAggregator(f.root, f.db, f.linker, f.prober)
}

func (f *lsFixture) path(rel string) string { return filepath.Join(f.root, rel) }

func TestBuildClosureSingleCommand(t *testing.T) {
	t.Parallel()
	f := newLsFixture(t)

	c, err := f.aggregator().BuildClosure(context.Background(), []string{"ls"}, nil)
	if err != nil {
		t.Fatalf("BuildClosure: %v", err)
	}
	want := []string{f.path("bin/ls"), f.path("etc/ls.conf"), f.path("lib/libc.so.6")}
	if !slices.Equal(c.Entries, want) {
		t.Errorf("Entries = %q, want %q", c.Entries, want)
	}
	if len(c.Warnings) != 0 {
		t.Errorf("warnings = %v, want none", c.Warnings)
	}
}

func TestBuildClosureUnknownCommand(t *testing.T) {
	t.Parallel()
	f := newLsFixture(t)

	c, err := f.aggregator().BuildClosure(context.Background(), []string{"ghost"}, nil)
	if err != nil {
		t.Fatalf("BuildClosure: %v", err)
	}
	ws := c.WarningsMatching(ErrBinaryNotFound)
	if len(ws) != 1 {
		t.Fatalf("ErrBinaryNotFound warnings = %v, want exactly one", c.Warnings)
	}
	if ws[0].Command != "ghost" {
		t.Errorf("warning command = %q, want %q", ws[0].Command, "ghost")
	}
	if len(c.Entries) != 0 {
		t.Errorf("Entries = %q, want none", c.Entries)
	}
}

func TestBuildClosureSharedLibraryOnce(t *testing.T) {
	t.Parallel()
	f := newLsFixture(t)

	c, err := f.aggregator().BuildClosure(context.Background(), []string{"ls", "cat", "ls"}, nil)
	if err != nil {
		t.Fatalf("BuildClosure: %v", err)
	}
	n := 0
	for _, e := range c.Entries {
		if e == f.path("lib/libc.so.6") {
			n++
		}
	}
	if n != 1 {
		t.Errorf("libc appears %d times, want 1", n)
	}
	for i := 1; i < len(c.Entries); i++ {
		if c.Entries[i-1] >= c.Entries[i] {
			t.Errorf("entries not sorted and unique at %d: %q", i, c.Entries)
			break
		}
	}
}

func TestBuildClosureMonotonic(t *testing.T) {
	t.Parallel()
	f := newLsFixture(t)
	ctx := context.Background()

	small, err := f.aggregator().BuildClosure(ctx, []string{"cat"}, nil)
	if err != nil {
		t.Fatalf("BuildClosure(cat): %v", err)
	}
	large, err := f.aggregator().BuildClosure(ctx, []string{"cat", "ls"}, nil)
	if err != nil {
		t.Fatalf("BuildClosure(cat, ls): %v", err)
	}
	got := asSet(large.Entries)
	for _, e := range small.Entries {
		if !got[e] {
			t.Errorf("adding a command dropped %q", e)
		}
	}
}

func TestBuildClosureBaseline(t *testing.T) {
	t.Parallel()
	f := newLsFixture(t)

	c, err := f.aggregator().BuildClosure(context.Background(), nil, []string{"cat"})
	if err != nil {
		t.Fatalf("BuildClosure: %v", err)
	}
	if !asSet(c.Entries)[f.path("bin/cat")] {
		t.Errorf("baseline command cat missing from %q", c.Entries)
	}
}

func TestBuildClosureUnresolvedLibrary(t *testing.T) {
	t.Parallel()
	f := newLsFixture(t)
	f.linker.deps[f.path("bin/ls")] = append(f.linker.deps[f.path("bin/ls")],
		Dependency{Name: "libacl.so.1"})

	c, err := f.aggregator().BuildClosure(context.Background(), []string{"ls"}, nil)
	if err != nil {
		t.Fatalf("BuildClosure: %v", err)
	}
	ws := c.WarningsMatching(ErrUnresolvedLibrary)
	if len(ws) != 1 || ws[0].Path != "libacl.so.1" || ws[0].Command != "ls" {
		t.Errorf("unresolved warnings = %v, want one for libacl.so.1", ws)
	}
	if !asSet(c.Entries)[f.path("lib/libc.so.6")] {
		t.Error("resolvable libc dropped alongside the unresolved library")
	}
}

func TestBuildClosureLinkerFailure(t *testing.T) {
	t.Parallel()
	f := newLsFixture(t)
	boom := errors.New("ldd: exited with status 1")
	f.linker.err = map[string]error{f.path("bin/ls"): boom}

	c, err := f.aggregator().BuildClosure(context.Background(), []string{"ls", "cat"}, nil)
	if err != nil {
		t.Fatalf("BuildClosure: %v", err)
	}
	if ws := c.WarningsMatching(boom); len(ws) != 1 {
		t.Errorf("linker failure warnings = %v, want one", c.Warnings)
	}
	if !asSet(c.Entries)[f.path("bin/cat")] {
		t.Error("a failing command stopped the rest of the run")
	}
}

func TestBuildClosureCancelled(t *testing.T) {
	t.Parallel()
	f := newLsFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c, err := f.aggregator().BuildClosure(ctx, []string{"ls"}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if c == nil {
		t.Fatal("cancelled run returned no partial closure")
	}
	if asSet(c.Entries)[f.path("bin/ls")] {
		t.Error("cancelled run still resolved ls")
	}
}

func TestBaselineToolset(t *testing.T) {
	t.Parallel()
	if got := BaselineToolset("busybox"); len(got) != 1 || got[0] != "busybox" {
		t.Errorf("BaselineToolset(busybox) = %q", got)
	}
	sysv := BaselineToolset("sysv")
	if len(sysv) != len(bashToolset) {
		t.Errorf("BaselineToolset(sysv) has %d commands, want %d", len(sysv), len(bashToolset))
	}
	sysv[0] = "mutated"
	if bashToolset[0] == "mutated" {
		t.Error("BaselineToolset returned the shared slice")
	}
	if got := BaselineToolset("none"); got != nil {
		t.Errorf("BaselineToolset(none) = %q, want nil", got)
	}
}
