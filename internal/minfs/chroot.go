package minfs

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// mount mounts source on dest, creating dest first. Device-file binds get a
// file placeholder instead of a directory.
func (e *Executor) mount(source, dest, fsType, options string, isBind bool) error {
	if isBind && !isDirPath(source) {
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if _, err := os.Lstat(dest); errors.Is(err, os.ErrNotExist) {
			if err := os.WriteFile(dest, nil, 0o644); err != nil {
				return fmt.Errorf("failed to create placeholder %s: %w", dest, err)
			}
		}
	} else if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("failed to create mount point %s: %w", dest, err)
	}

	args := []string{source, dest}
	if isBind {
		args = append(args, "--bind")
	} else {
		if fsType != "" {
			args = append(args, "-t", fsType)
		}
		if options != "" {
			args = append(args, "-o", options)
		}
	}
	cmd := exec.Command("mount", args...)
	debugf("[INFO] Running mount: %s\n", strings.Join(cmd.Args, " "))
	if err := e.Run(cmd); err != nil {
		return fmt.Errorf("mount failed for %s to %s: %w", source, dest, err)
	}
	return nil
}

func isDirPath(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

// unmountAll lazily unmounts paths in reverse order.
func (e *Executor) unmountAll(paths []string) error {
	var failures []string
	for i := len(paths) - 1; i >= 0; i-- {
		debugf("[INFO] Unmounting: %s\n", paths[i])
		if err := e.Run(exec.Command("umount", "-l", paths[i])); err != nil {
			failures = append(failures, fmt.Sprintf("umount %s: %v", paths[i], err))
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("unmount errors:\n%s", strings.Join(failures, "\n"))
	}
	return nil
}

// runChroot mounts the pseudo filesystems into an assembled tree, runs a
// command inside it and always unmounts afterwards. It returns the exit code
// to report.
func runChroot(targetDir string, cmdArgs []string, e *Executor) (exitCode int) {
	exitCode = 1
	if len(cmdArgs) == 0 {
		cmdArgs = []string{"/bin/sh"}
	}
	if _, err := os.Lstat(filepath.Join(targetDir, strings.TrimPrefix(cmdArgs[0], "/"))); err != nil {
		cPrintf(colError, "Error: %s not found inside %s\n", cmdArgs[0], targetDir)
		return 127
	}

	mounts := []struct {
		source, target, fsType, options string
		bind                            bool
	}{
		{"proc", "proc", "proc", "nosuid,noexec,nodev", false},
		{"sys", "sys", "sysfs", "nosuid,noexec,nodev,ro", false},
		{"/dev/pts", "dev/pts", "", "", true},
		{"/dev/tty", "dev/tty", "", "", true},
		{"tmp", "tmp", "tmpfs", "mode=1777,nodev,nosuid", false},
	}

	var mounted []string
	defer func() {
		colArrow.Print("-> ")
		colSuccess.Println("Starting chroot cleanup")
		if err := e.unmountAll(mounted); err != nil {
			cPrintln(colWarn, err)
		}
	}()

	for _, m := range mounts {
		dest := filepath.Join(targetDir, m.target)
		if err := e.mount(m.source, dest, m.fsType, m.options, m.bind); err != nil {
			cPrintf(colError, "Failed to mount /%s: %v\n", m.target, err)
			return 1
		}
		mounted = append(mounted, dest)
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Executing command %v in chroot %s\n", cmdArgs, targetDir)
	cmd := exec.Command("chroot", append([]string{targetDir}, cmdArgs...)...)
	if err := e.Run(cmd); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		cPrintf(colError, "Command failed inside chroot: %v\n", err)
		return 1
	}
	return 0
}
