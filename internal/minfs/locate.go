package minfs

import (
	"fmt"
	"io/fs"
	"path/filepath"
)

// ResolvedBinary is the installed copy of a command and its owning package.
type ResolvedBinary struct {
	Command string
	Path    string
	Package string
}

// execDirs are the root-relative directories a command may be taken from.
var execDirs = map[string]bool{
	"bin":            true,
	"sbin":           true,
	"usr/bin":        true,
	"usr/sbin":       true,
	"usr/local/bin":  true,
	"usr/local/sbin": true,
}

// Locator finds the authoritative installed copy of a command.
type Locator struct {
	Root   string
	DB     PackageDatabase
	Policy string // "last" (later owned candidates override earlier ones) or "first"
}

// candidates walks root for files named exactly command that sit directly
// in one of the executable directories, in walk order.
func (l *Locator) candidates(command string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(l.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable subtrees are not fatal for a search
			if d != nil && d.IsDir() && path != l.Root {
				return fs.SkipDir
			}
			if path == l.Root {
				return err
			}
			return nil
		}
		if d.IsDir() || d.Name() != command {
			return nil
		}
		rel, err := filepath.Rel(l.Root, filepath.Dir(path))
		if err != nil {
			return nil
		}
		if execDirs[filepath.ToSlash(rel)] {
			found = append(found, path)
		}
		return nil
	})
	return found, err
}

// Locate returns the owned candidate selected by the policy. It fails with
// ErrBinaryNotFound when no candidate exists and ErrPackageNotOwned when
// candidates exist but none has an owner.
func (l *Locator) Locate(command string) (*ResolvedBinary, error) {
	if command == "" || filepath.Base(command) != command {
		return nil, fmt.Errorf("%w: invalid command name %q", ErrBinaryNotFound, command)
	}
	cands, err := l.candidates(command)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", l.Root, err)
	}
	if len(cands) == 0 {
		return nil, ErrBinaryNotFound
	}

	var best *ResolvedBinary
	for _, c := range cands {
		pkg, err := l.DB.FindOwner(c)
		if err != nil {
			return nil, err
		}
		if pkg == "" {
			debugf("%s is not owned by any package\n", c)
			continue
		}
		best = &ResolvedBinary{Command: command, Path: c, Package: pkg}
		if l.Policy == "first" {
			break
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s", ErrPackageNotOwned, cands[len(cands)-1])
	}
	return best, nil
}
