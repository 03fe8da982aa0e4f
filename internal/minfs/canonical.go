package minfs

import (
	"os"
	"path/filepath"
	"strings"
)

// Canonicalizer collapses a versioned library symlink and its target into
// one glob pattern ("/lib/libfoo.so.1*" for libfoo.so.1 -> libfoo.so.1.2.3).
type Canonicalizer struct {
	// MinPrefix is the number of characters past the entry's directory the
	// shared prefix must reach. The prefix must also always cover the link
	// name through its ".so" stem.
	MinPrefix int
	// Root is the search root; absolute link targets are read inside it.
	Root string

	readlink func(string) (string, error)
}

// NewCanonicalizer returns a Canonicalizer that reads links inside root.
func NewCanonicalizer(root string, minPrefix int) *Canonicalizer {
	return &Canonicalizer{Root: root, MinPrefix: minPrefix, readlink: os.Readlink}
}

// inLibraryDir reports whether the target-absolute path p lies under a lib directory.
func inLibraryDir(p string) bool {
	return strings.Contains(p, "/lib/")
}

// soStem returns name up to and including ".so" ("libfoo.so" for
// libfoo.so.1), or all of name when it has no ".so".
func soStem(name string) string {
	if i := strings.Index(name, ".so"); i >= 0 {
		return name[:i+len(".so")]
	}
	return name
}

// commonPrefix returns the longest common prefix of a and b, compared byte by byte.
func commonPrefix(a, b string) string {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}

// Canonicalize returns the entries that stand for path in the closure. The
// result is path itself unless path is a library symlink, in which case it
// is a single prefix pattern. When the pattern would be over-broad the
// literal symlink and its resolved target are returned together with an
// ErrDegenerateCanonicalization warning.
func (c *Canonicalizer) Canonicalize(path string) ([]string, *Warning) {
	if !inLibraryDir(relToRoot(c.Root, path)) || strings.HasSuffix(path, "*") {
		return []string{path}, nil
	}
	target, err := c.readlink(path)
	if err != nil {
		// not a symlink (or gone): pass through
		return []string{path}, nil
	}

	dir := filepath.Dir(path)
	resolved := dir + "/" + target
	if filepath.IsAbs(target) {
		resolved = rootPath(c.Root, target)
	}

	prefix := commonPrefix(path, resolved)
	need := max(len(soStem(filepath.Base(path))), c.MinPrefix, 1)
	if len(prefix) < len(dir)+1+need {
		return []string{path, filepath.Clean(resolved)}, &Warning{
			Path: path,
			Err:  ErrDegenerateCanonicalization,
		}
	}
	return []string{prefix + "*"}, nil
}
