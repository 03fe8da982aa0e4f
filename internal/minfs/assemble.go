package minfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
)

// skeletonDirs are created in every image, even when nothing is copied into them.
var skeletonDirs = []string{"sbin", "bin", "dev", "etc", "lib", "tmp", "proc", "usr", "var"}

var errNoMatch = errors.New("closure entry matches no file")

// Assembler materializes a Closure under Dest. Dest is owned exclusively by
// the assembler for the duration of Assemble.
type Assembler struct {
	Root     string
	Dest     string
	InitType string

	// Privileged is used for mknod when the process itself cannot create
	// device nodes. Nil means nodes are left to the archiver.
	Privileged *Executor
	// Progress receives the copy progress bar; nil disables it.
	Progress io.Writer

	warn func(Warning)
}

// Assembly describes a materialized tree.
type Assembly struct {
	Dest string
	// Devices lists the nodes that could not be created in Dest and must be
	// synthesized by the archiver.
	Devices []DeviceNode
}

func (a *Assembler) report(w Warning) {
	if a.warn != nil {
		a.warn(w)
	}
}

// match returns the files a closure entry stands for. An entry that exists
// is taken literally, so names such as /usr/bin/[ are never globbed. Other
// entries ending in '*' are library prefix patterns.
func match(e string) []string {
	if _, err := os.Lstat(e); err == nil {
		return []string{e}
	}
	if !strings.HasSuffix(e, "*") {
		return nil
	}
	matches, _ := filepath.Glob(globEscape(strings.TrimSuffix(e, "*")) + "*")
	return matches
}

// expand adds the concrete source files of entries to files. Entries that
// match nothing are reported unless optional is set.
func (a *Assembler) expand(files *pathSet, entries []string, optional bool) {
	for _, e := range entries {
		matches := match(e)
		if len(matches) == 0 {
			if !optional {
				a.report(Warning{Path: e, Err: errNoMatch})
			}
			continue
		}
		for _, m := range matches {
			if !underRoot(a.Root, m) {
				a.report(Warning{Path: m, Err: fmt.Errorf("outside search root %s", a.Root)})
				continue
			}
			files.add(m)
		}
	}
}

// supplemental returns the entries the linker never reports: name-service
// modules loaded with dlopen, the gcc runtime needed by thread cancellation
// and the account and host databases.
func (a *Assembler) supplemental(entries []string) []string {
	lib := filepath.Join(a.Root, "lib")
	extra := []string{lib + "/libnss*"}
	for _, e := range entries {
		if strings.HasPrefix(filepath.Base(e), "libpthread") {
			extra = append(extra, lib+"/libgcc_*")
			break
		}
	}
	for _, name := range []string{"passwd", "group", "hosts"} {
		extra = append(extra, filepath.Join(a.Root, "etc", name))
	}
	return extra
}

// Assemble copies every closure entry to its root-relative location,
// creates the device table and sets up init.
func (a *Assembler) Assemble(ctx context.Context, c *Closure) (*Assembly, error) {
	for _, d := range skeletonDirs {
		if err := os.MkdirAll(filepath.Join(a.Dest, d), 0o755); err != nil {
			return nil, fmt.Errorf("create skeleton: %w", err)
		}
	}

	set := newPathSet()
	a.expand(set, c.Entries, false)
	a.expand(set, a.supplemental(c.Entries), true)
	files := set.sorted()

	colArrow.Print("-> ")
	colSuccess.Printf("Copying %d files into %s\n", len(files), a.Dest)
	var bar *progressbar.ProgressBar
	if a.Progress != nil {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetWriter(a.Progress),
			progressbar.OptionSetDescription("copy"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	for _, src := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dst := filepath.Join(a.Dest, relToRoot(a.Root, src))
		if err := copyEntry(src, dst); err != nil {
			a.report(Warning{Path: src, Err: err})
		}
		if bar != nil {
			bar.Add(1)
		}
	}
	if bar != nil {
		bar.Finish()
	}

	pending, err := makeDevices(filepath.Join(a.Dest, "dev"), a.Privileged)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		debugf("%d device nodes will be written by the archiver\n", len(pending))
	}

	if err := a.setupInit(); err != nil {
		return nil, fmt.Errorf("init setup (%s): %w", a.InitType, err)
	}
	return &Assembly{Dest: a.Dest, Devices: pending}, nil
}

// copyEntry copies src to dst without following symlinks. Directories are
// copied recursively.
func copyEntry(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	switch mode := info.Mode(); {
	case mode&os.ModeSymlink != 0:
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		os.Remove(dst)
		return os.Symlink(target, dst)
	case mode.IsDir():
		return copyDir(src, dst)
	case mode.IsRegular():
		return copyFile(src, dst, mode.Perm())
	default:
		debugf("skipping special file %s\n", src)
		return nil
	}
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	os.Remove(dst)
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	// umask may have masked the requested bits
	return os.Chmod(dst, perm)
}

// copyDir recursively copies a directory from src to dst
func copyDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	for _, entry := range entries {
		if err := copyEntry(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
