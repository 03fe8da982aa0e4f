package minfs

import (
	"fmt"
	"os"
	"path/filepath"
)

// busyboxApplets are linked to /bin/busybox in a busybox image.
var busyboxApplets = []string{
	"sh", "ls", "echo", "mount", "umount", "pwd", "mv", "cp", "rm", "ln",
	"mkdir", "vi", "cat", "halt",
}

const rcSScript = `#!/bin/sh
echo "Welcome to a custom minimal file system"
mount -t proc proc /proc
mount -o remount,noatime /dev/root /
`

const rcSBBScript = `#!/bin/sh
# example rcS script
echo "Welcome to STLinux!"
mount -t proc proc /proc
mount -n -o remount,rw /
mount -t devpts none /dev/pts -ogid=5,mode=620
/bin/sh
`

// sysvInitScripts are taken from <root>/etc/init.d in a sysv image.
var sysvInitScripts = []string{
	"bootlogd", "syslogd", "bootmisc.sh", "rcSBB", "umountfs", "checkfs.sh",
	"klogd", "ntpdate", "umountnfs.sh", "checkroot.sh", "makedev", "nviboot",
	"rmnologin", "urandom", "portmap", "sendsigs", "mountall.sh", "setserial",
	"mountnfs.sh", "rc", "single", "hostname.sh", "rcS", "syslog",
	"bootclean.sh", "mountvirtfs",
}

// sysvRunlevels are the rc.d/rc<N>.d directories of a sysv image.
var sysvRunlevels = []string{"0", "1", "2", "3", "4", "5", "6", "S"}

func (a *Assembler) setupInit() error {
	switch a.InitType {
	case "busybox":
		return a.setupBusybox()
	case "sysv":
		return a.setupSysv()
	}
	return nil
}

// relink replaces whatever is at p with a symlink to target.
func relink(target, p string) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	os.Remove(p)
	return os.Symlink(target, p)
}

func (a *Assembler) setupBusybox() error {
	if _, err := os.Lstat(filepath.Join(a.Dest, "bin", "busybox")); err != nil {
		a.report(Warning{Path: "/bin/busybox", Err: fmt.Errorf("not in image, applet links will dangle")})
	}
	for _, app := range busyboxApplets {
		if err := relink("/bin/busybox", filepath.Join(a.Dest, "bin", app)); err != nil {
			return err
		}
	}
	if err := relink("/bin/busybox", filepath.Join(a.Dest, "sbin", "init")); err != nil {
		return err
	}

	initd := filepath.Join(a.Dest, "etc", "init.d")
	if err := os.MkdirAll(initd, 0o755); err != nil {
		return err
	}
	for name, body := range map[string]string{"rcS": rcSScript, "rcSBB": rcSBBScript} {
		p := filepath.Join(initd, name)
		if err := os.WriteFile(p, []byte(body), 0o755); err != nil {
			return err
		}
		if err := os.Chmod(p, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// copyFromRoot copies every match of the root-relative pattern to the same
// place in the image, or into destDir when it is set. A pattern without
// matches is a warning.
func (a *Assembler) copyFromRoot(pattern, destDir string) {
	matches, _ := filepath.Glob(filepath.Join(globEscape(a.Root), pattern))
	if len(matches) == 0 {
		a.report(Warning{Path: "/" + pattern, Err: errNoMatch})
		return
	}
	for _, m := range matches {
		dst := filepath.Join(a.Dest, relToRoot(a.Root, m))
		if destDir != "" {
			dst = filepath.Join(a.Dest, destDir, filepath.Base(m))
		}
		if err := copyEntry(m, dst); err != nil {
			a.report(Warning{Path: m, Err: err})
		}
	}
}

func (a *Assembler) setupSysv() error {
	a.copyFromRoot("usr/bin/passwd", "")
	a.copyFromRoot("bin/egrep", "")
	if err := relink("bash", filepath.Join(a.Dest, "bin", "sh")); err != nil {
		return err
	}

	for _, f := range []string{"etc/fstab", "etc/passwd", "etc/mtab", "etc/default/*"} {
		a.copyFromRoot(f, "")
	}
	if err := os.MkdirAll(filepath.Join(a.Dest, "etc", "init.d"), 0o755); err != nil {
		return err
	}
	for _, s := range sysvInitScripts {
		a.copyFromRoot(filepath.Join("etc", "init.d", s), "")
	}
	for _, lvl := range sysvRunlevels {
		dir := filepath.Join("etc", "rc.d", "rc"+lvl+".d")
		if err := os.MkdirAll(filepath.Join(a.Dest, dir), 0o755); err != nil {
			return err
		}
		a.copyFromRoot(filepath.Join(dir, "*"), "")
	}
	a.copyFromRoot("etc/rc.d/init.d", "")

	a.copyFromRoot("usr/lib/libwrap*", "")
	a.copyFromRoot("lib/libnsl*", "usr/lib")
	return nil
}
