package minfs

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestWarningError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		w    Warning
		want string
	}{
		{Warning{Command: "ls", Path: "libacl.so.1", Err: ErrUnresolvedLibrary}, "ls: libacl.so.1: " + ErrUnresolvedLibrary.Error()},
		{Warning{Command: "ghost", Err: ErrBinaryNotFound}, "ghost: " + ErrBinaryNotFound.Error()},
		{Warning{Path: "/lib/libc.so.6", Err: ErrDegenerateCanonicalization}, "/lib/libc.so.6: " + ErrDegenerateCanonicalization.Error()},
		{Warning{Err: ErrCommandTimeout}, ErrCommandTimeout.Error()},
	}
	for _, tt := range tests {
		if got := tt.w.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
		if !errors.Is(tt.w, tt.w.Err) {
			t.Errorf("errors.Is(%v, %v) = false", tt.w, tt.w.Err)
		}
	}
}

func TestWarningsCollector(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	ws := newWarnings(&buf)
	ws.add(Warning{Command: "ghost", Err: ErrBinaryNotFound})
	ws.add(Warning{Command: "orphan", Err: ErrPackageNotOwned})

	all := ws.all()
	if len(all) != 2 || all[0].Command != "ghost" || all[1].Command != "orphan" {
		t.Errorf("all() = %v, want ghost then orphan", all)
	}
	if !strings.Contains(buf.String(), "ghost") || !strings.Contains(buf.String(), "orphan") {
		t.Errorf("operator output = %q, want both warnings echoed", buf.String())
	}
}
