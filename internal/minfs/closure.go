package minfs

import (
	"context"
	"errors"
	"io"
)

// Closure is the set of source-tree paths (and library glob patterns) an
// image needs, with every warning raised while computing it.
type Closure struct {
	Entries  []string
	Warnings []Warning
}

// bashToolset is the shell-support list of a sysv image.
var bashToolset = []string{
	"bash", "login", "init", "grep", "uname", "hostname", "readlink", "cat",
	"mount", "getty", "agetty", "stty", "ls", "rm", "pwd", "mountpoint", "id",
	"fsck", "mknod", "halt", "chmod", "runlevel",
}

// BaselineToolset returns the commands always resolved for an init type.
func BaselineToolset(initType string) []string {
	switch initType {
	case "busybox":
		return []string{"busybox"}
	case "sysv":
		return append([]string(nil), bashToolset...)
	}
	return nil
}

// Aggregator runs the locator and resolver over a command set.
type Aggregator struct {
	Root          string
	Locator       *Locator
	Resolver      *Resolver
	Canonicalizer *Canonicalizer

	warnings *warnings
}

// NewAggregator wires the collaborators selected by s. The returned close
// function releases the probe cache.
func NewAggregator(s *Settings, exec *Executor, out io.Writer) (*Aggregator, func() error, error) {
	db, err := NewPackageDatabase(s, exec)
	if err != nil {
		return nil, nil, err
	}
	linker, err := NewLinkerIntrospector(s, exec)
	if err != nil {
		return nil, nil, err
	}
	prober, closeProber, err := NewContentProber(s, exec)
	if err != nil {
		return nil, nil, err
	}
	ws := newWarnings(out)
	a := &Aggregator{
		Root:    s.SearchRoot,
		Locator: &Locator{Root: s.SearchRoot, DB: db, Policy: s.LocatePolicy},
		Resolver: &Resolver{
			Root:       s.SearchRoot,
			DB:         db,
			Linker:     linker,
			Prober:     prober,
			Classifier: NewClassifier(s.ELFClass),
			warn:       ws.add,
		},
		Canonicalizer: NewCanonicalizer(s.SearchRoot, s.MinPrefix),
		warnings:      ws,
	}
	return a, closeProber, nil
}

func (a *Aggregator) report(w Warning) {
	if a.warnings == nil {
		a.warnings = newWarnings(nil)
	}
	a.warnings.add(w)
}

// BuildClosure resolves baseline then commands, in order. Per-command
// failures become warnings; the context is checked between commands and a
// cancelled run returns the partial closure together with ctx.Err().
func (a *Aggregator) BuildClosure(ctx context.Context, commands, baseline []string) (*Closure, error) {
	if a.warnings == nil {
		a.warnings = newWarnings(nil)
	}
	if a.Resolver.warn == nil {
		a.Resolver.warn = a.warnings.add
	}

	collected := newPathSet()
	seen := make(map[string]bool)
	var ctxErr error

	all := append(append([]string(nil), baseline...), commands...)
	for _, cmd := range all {
		if err := ctx.Err(); err != nil {
			ctxErr = err
			break
		}
		if seen[cmd] {
			continue
		}
		seen[cmd] = true

		bin, err := a.Locator.Locate(cmd)
		if err != nil {
			a.report(Warning{Command: cmd, Err: err})
			continue
		}
		debugf("%s -> %s (%s)\n", cmd, bin.Path, bin.Package)
		entries, err := a.Resolver.Resolve(bin)
		if err != nil {
			a.report(Warning{Command: cmd, Path: bin.Path, Err: err})
			continue
		}
		collected.addAll(entries)
	}

	final := newPathSet()
	for _, p := range collected.slice() {
		canon, w := a.Canonicalizer.Canonicalize(p)
		if w != nil {
			a.report(*w)
		}
		final.addAll(canon)
	}

	return &Closure{Entries: final.sorted(), Warnings: a.warnings.all()}, ctxErr
}

// WarningsMatching returns the warnings of c that wrap target.
func (c *Closure) WarningsMatching(target error) []Warning {
	var out []Warning
	for _, w := range c.Warnings {
		if errors.Is(w, target) {
			out = append(out, w)
		}
	}
	return out
}
