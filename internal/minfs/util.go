package minfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// color-compatible printer interface (works with *color.Theme and *color.Style)
type colorPrinter interface {
	Printf(format string, a ...any)
	Println(a ...any)
}

// cPrintf prints with a colored style or falls back to fmt.Printf when nil
func cPrintf(p colorPrinter, format string, a ...any) {
	if p == nil {
		fmt.Printf(format, a...)
		return
	}
	p.Printf(format, a...)
}

// cPrintln prints a line with the given style or falls back to fmt.Println when nil
func cPrintln(p colorPrinter, a ...any) {
	if p == nil {
		fmt.Println(a...)
		return
	}
	p.Println(a...)
}

// debugf prints debug messages when Debug is true
func debugf(format string, args ...any) {
	if Debug {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// underRoot reports whether p lies inside root (or is root itself).
func underRoot(root, p string) bool {
	root = filepath.Clean(root)
	p = filepath.Clean(p)
	if root == "/" {
		return strings.HasPrefix(p, "/")
	}
	return p == root || strings.HasPrefix(p, root+"/")
}

// rootPath rebases a target-absolute path under root. Paths already inside
// root are returned cleaned and unchanged.
func rootPath(root, p string) string {
	if underRoot(root, p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}

// relToRoot strips root from p and returns the target-absolute form ("/bin/ls").
func relToRoot(root, p string) string {
	if !underRoot(root, p) {
		return filepath.Clean(p)
	}
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(p))
	if err != nil || rel == "." {
		return "/"
	}
	return "/" + rel
}

// resolveInRoot follows the symlink chain of p without leaving root:
// absolute link targets are read relative to root, not to the host.
func resolveInRoot(root, p string) string {
	for range 40 {
		target, err := os.Readlink(p)
		if err != nil {
			return p
		}
		if filepath.IsAbs(target) {
			p = filepath.Join(root, target)
		} else {
			p = filepath.Join(filepath.Dir(p), target)
		}
	}
	return p
}

// globEscape quotes the pattern metacharacters in a literal path.
func globEscape(p string) string {
	var b strings.Builder
	for _, r := range p {
		switch r {
		case '*', '?', '[', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
