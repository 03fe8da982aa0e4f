package minfs

import (
	"bytes"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
)

// isELF reports whether the regular file at p starts with the ELF magic.
func isELF(p string) bool {
	f, err := os.Open(p)
	if err != nil {
		return false
	}
	defer f.Close()
	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return false
	}
	return bytes.Equal(magic, []byte("\x7fELF"))
}

// stripTree strips every ELF file under dir in parallel. Failures are
// reported and never abort the build.
func stripTree(dir, tool string, stripExec *Executor, warn func(Warning)) error {
	colArrow.Print("-> ")
	colSuccess.Println("Stripping executables in parallel")

	var paths []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && isELF(p) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		debugf("-> No stripable ELF files found.\n")
		return nil
	}

	maxConcurrency := max(runtime.GOMAXPROCS(0)*4, 8)
	concurrencyLimit := make(chan struct{}, maxConcurrency)

	var wg sync.WaitGroup
	var failedMu sync.Mutex
	var failed int

	for _, p := range paths {
		wg.Add(1)
		concurrencyLimit <- struct{}{}
		go func(p string) {
			defer wg.Done()
			defer func() { <-concurrencyLimit }()

			info, err := os.Stat(p)
			if err != nil {
				return
			}
			perm := info.Mode().Perm()
			// strip rewrites the file in place and needs write access
			if perm&0o200 == 0 {
				os.Chmod(p, perm|0o200)
				defer os.Chmod(p, perm)
			}

			debugf("  -> Stripping %s\n", p)
			cmd := exec.Command(tool, "--strip-unneeded", p)
			cmd.Stdout = io.Discard
			cmd.Stderr = io.Discard
			if Debug {
				cmd.Stderr = os.Stderr
			}
			if err := stripExec.Run(cmd); err != nil {
				failedMu.Lock()
				failed++
				failedMu.Unlock()
				if warn != nil {
					warn(Warning{Path: p, Err: err})
				}
			}
		}(p)
	}
	wg.Wait()

	if failed > 0 {
		debugf("Warning: %d of %d files failed to be stripped. Continuing.\n", failed, len(paths))
	}
	return nil
}
