package minfs

import (
	"path/filepath"
	"testing"
)

func TestGlobEscape(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "a[1]*?")
	writeTree(t, dir, map[string]string{"[": "x", "b": "x"})

	for _, name := range []string{"[", "b"} {
		p := filepath.Join(dir, name)
		matches, err := filepath.Glob(globEscape(p))
		if err != nil || len(matches) != 1 || matches[0] != p {
			t.Errorf("Glob(globEscape(%q)) = %q, %v; want the path itself", p, matches, err)
		}
	}
}

func TestRelToRoot(t *testing.T) {
	t.Parallel()
	tests := []struct{ root, p, want string }{
		{"/opt/target", "/opt/target/bin/ls", "/bin/ls"},
		{"/opt/target", "/opt/target", "/"},
		{"/", "/etc/hosts", "/etc/hosts"},
		{"/opt/target", "/usr/bin/ls", "/usr/bin/ls"},
	}
	for _, tt := range tests {
		if got := relToRoot(tt.root, tt.p); got != tt.want {
			t.Errorf("relToRoot(%q, %q) = %q, want %q", tt.root, tt.p, got, tt.want)
		}
	}
}
