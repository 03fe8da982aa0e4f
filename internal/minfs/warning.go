package minfs

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Warning records a non-fatal event raised while resolving one command.
type Warning struct {
	Command string // command being resolved, empty for run-wide events
	Path    string // file the warning is about, if any
	Err     error
}

func (w Warning) Error() string {
	switch {
	case w.Command != "" && w.Path != "":
		return fmt.Sprintf("%s: %s: %v", w.Command, w.Path, w.Err)
	case w.Command != "":
		return fmt.Sprintf("%s: %v", w.Command, w.Err)
	case w.Path != "":
		return fmt.Sprintf("%s: %v", w.Path, w.Err)
	}
	return w.Err.Error()
}

func (w Warning) Unwrap() error { return w.Err }

// warnings collects warnings and echoes them to the operator as they happen.
type warnings struct {
	mu    sync.Mutex
	list  []Warning
	out   io.Writer
	quiet bool
}

func newWarnings(out io.Writer) *warnings {
	if out == nil {
		out = os.Stderr
	}
	return &warnings{out: out}
}

func (ws *warnings) add(w Warning) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.list = append(ws.list, w)
	if ws.quiet {
		return
	}
	fmt.Fprint(ws.out, colArrow.Sprint("-> "))
	fmt.Fprintln(ws.out, colWarn.Sprintf("Warning: %s", w.Error()))
}

func (ws *warnings) all() []Warning {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	out := make([]Warning, len(ws.list))
	copy(out, ws.list)
	return out
}
