package minfs

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestParseLddOutput(t *testing.T) {
	t.Parallel()
	const root = "/opt/target"
	out := []byte(`	linux-gate.so.1 =>  (0xffffe000)
	libacl.so.1 => not found
	libc.so.6 => /lib/libc.so.6 (0x2aaa8000)
	libm.so.6 => /opt/target/lib/libm.so.6 (0x2aab0000)
	/lib/ld-linux.so.2 (0x2aaa0000)
`)
	got := parseLddOutput(root, out)
	want := []Dependency{
		{Name: "libacl.so.1"},
		{Name: "libc.so.6", Path: "/opt/target/lib/libc.so.6", Resolved: true},
		{Name: "libm.so.6", Path: "/opt/target/lib/libm.so.6", Resolved: true},
		{Name: "ld-linux.so.2", Path: "/opt/target/lib/ld-linux.so.2", Resolved: true},
	}
	if len(got) != len(want) {
		t.Fatalf("parseLddOutput = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dep[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParseLddOutputStatic(t *testing.T) {
	t.Parallel()
	if got := parseLddOutput("/", []byte("\tstatically linked\n")); len(got) != 0 {
		t.Errorf("parseLddOutput(static) = %+v, want none", got)
	}
}

type scriptedRunner struct {
	out []byte
	err error

	calls [][]string
}

func (s *scriptedRunner) Output(name string, args ...string) ([]byte, error) {
	s.calls = append(s.calls, append([]string{name}, args...))
	return s.out, s.err
}

func TestLddIntrospector(t *testing.T) {
	t.Parallel()
	run := &scriptedRunner{out: []byte("libc.so.6 => /lib/libc.so.6 (0x1)\n")}
	l := &lddIntrospector{root: "/r", ldd: "/usr/bin/sh4-linux-ldd", run: run}

	deps, err := l.DependenciesOf("/r/bin/ls")
	if err != nil {
		t.Fatalf("DependenciesOf: %v", err)
	}
	if len(deps) != 1 || deps[0].Path != "/r/lib/libc.so.6" {
		t.Errorf("deps = %+v", deps)
	}
	if len(run.calls) != 1 || run.calls[0][0] != "/usr/bin/sh4-linux-ldd" || run.calls[0][1] != "/r/bin/ls" {
		t.Errorf("calls = %q", run.calls)
	}
}

func TestLddIntrospectorNotDynamic(t *testing.T) {
	t.Parallel()
	run := &scriptedRunner{out: []byte("\tnot a dynamic executable\n"), err: errors.New("exit status 1")}
	l := &lddIntrospector{root: "/r", ldd: "ldd", run: run}

	deps, err := l.DependenciesOf("/r/bin/zcat")
	if err != nil || len(deps) != 0 {
		t.Errorf("DependenciesOf(script) = %+v, %v; want none, nil", deps, err)
	}
}

func TestLddIntrospectorFailure(t *testing.T) {
	t.Parallel()
	boom := errors.New("exit status 2")
	l := &lddIntrospector{root: "/r", ldd: "ldd", run: &scriptedRunner{err: boom}}
	if _, err := l.DependenciesOf("/r/bin/ls"); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestELFIntrospectorNonELF(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeTree(t, root, map[string]string{"bin/zcat": "#!/bin/sh\nexec gzip -dc \"$@\"\n"})

	deps, err := newELFIntrospector(root).DependenciesOf(root + "/bin/zcat")
	if err != nil || len(deps) != 0 {
		t.Errorf("DependenciesOf(script) = %+v, %v; want none, nil", deps, err)
	}
}

func TestReadLdSoConf(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"etc/ld.so.conf":          "# comment\n/usr/local/lib\ninclude ld.so.conf.d/*.conf\nhwcap 0 nosegneg\n",
		"etc/ld.so.conf.d/a.conf": "/opt/a:/opt/b\n",
		"etc/ld.so.conf.d/b.conf": "/usr/lib/x86_64-linux-gnu # multiarch\n",
	})

	got := readLdSoConf(root, "/etc/ld.so.conf", 0)
	want := []string{"/usr/local/lib", "/opt/a", "/opt/b", "/usr/lib/x86_64-linux-gnu"}
	if !slices.Equal(got, want) {
		t.Errorf("readLdSoConf = %q, want %q", got, want)
	}

	dirs := newELFIntrospector(root).libDirs
	if !slices.Equal(dirs[:len(want)], want) || !slices.Equal(dirs[len(want):], defaultLibDirs) {
		t.Errorf("libDirs = %q, want ld.so.conf dirs then %q", dirs, defaultLibDirs)
	}
}

func TestReadLdSoConfMissing(t *testing.T) {
	t.Parallel()
	if got := readLdSoConf(t.TempDir(), "/etc/ld.so.conf", 0); len(got) != 0 {
		t.Errorf("readLdSoConf(no file) = %q, want none", got)
	}
}

func TestELFObjectSearchDirs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		obj  elfObject
		want []string
	}{
		{"rpath alone", elfObject{rpath: []string{"/r1", "/r2"}}, []string{"/r1", "/r2"}},
		{"runpath hides rpath", elfObject{rpath: []string{"/r1"}, runpath: []string{"/run"}}, []string{"/run"}},
		{"origin", elfObject{runpath: []string{"$ORIGIN/../lib", "${ORIGIN}"}}, []string{"/opt/app/lib", "/opt/app/bin"}},
		{"relative dropped", elfObject{runpath: []string{"lib"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.obj.searchDirs("/opt/app/bin"); !slices.Equal(got, tt.want) {
				t.Errorf("searchDirs = %q, want %q", got, tt.want)
			}
		})
	}
}

// hostDynamicBinary returns a dynamically linked ELF executable from the
// host, or skips the test.
func hostDynamicBinary(t *testing.T) (string, *elfObject) {
	t.Helper()
	const bin = "/bin/ls"
	obj, err := readELFObject(bin)
	if err != nil {
		t.Skipf("%s is not a readable ELF file: %v", bin, err)
	}
	if obj.interp == "" || len(obj.needed) == 0 {
		t.Skipf("%s is statically linked", bin)
	}
	return bin, obj
}

func TestELFIntrospectorHostRoot(t *testing.T) {
	t.Parallel()
	bin, obj := hostDynamicBinary(t)

	deps, err := newELFIntrospector("/").DependenciesOf(bin)
	if err != nil {
		t.Fatalf("DependenciesOf(%s): %v", bin, err)
	}
	if len(deps) == 0 || deps[0].Name != filepath.Base(obj.interp) || !deps[0].Resolved {
		t.Fatalf("first dependency = %+v, want resolved interpreter %s", deps, obj.interp)
	}
	for _, name := range obj.needed {
		i := slices.IndexFunc(deps, func(d Dependency) bool { return d.Name == name })
		if i < 0 || !deps[i].Resolved {
			t.Errorf("direct dependency %s missing or unresolved in %+v", name, deps)
		}
	}
}

// A copy of a host binary in a private root resolves its whole closure
// from that root, through ld.so.conf.d and the absolute interpreter path.
func TestELFIntrospectorPrivateRoot(t *testing.T) {
	t.Parallel()
	bin, obj := hostDynamicBinary(t)
	hostDeps, err := newELFIntrospector("/").DependenciesOf(bin)
	if err != nil {
		t.Fatalf("host DependenciesOf: %v", err)
	}

	root := t.TempDir()
	copyHost := func(src, dst string) {
		t.Helper()
		data, err := os.ReadFile(src)
		if err != nil {
			t.Fatalf("read %s: %v", src, err)
		}
		writeTree(t, root, map[string]string{dst: string(data)})
	}
	copyHost(bin, "bin/ls")
	copyHost(obj.interp, obj.interp)
	for _, d := range hostDeps {
		if !d.Resolved {
			t.Skipf("host dependency %s is unresolved", d.Name)
		}
		if d.Name != filepath.Base(obj.interp) {
			copyHost(d.Path, filepath.Join("opt/libs", d.Name))
		}
	}
	writeTree(t, root, map[string]string{
		"etc/ld.so.conf":          "include /etc/ld.so.conf.d/*.conf\n",
		"etc/ld.so.conf.d/x.conf": "/opt/libs\n",
	})

	deps, err := newELFIntrospector(root).DependenciesOf(filepath.Join(root, "bin/ls"))
	if err != nil {
		t.Fatalf("DependenciesOf: %v", err)
	}
	var got, want []string
	for _, d := range deps {
		got = append(got, d.Name)
		if !d.Resolved || !underRoot(root, d.Path) {
			t.Errorf("dependency %+v not resolved inside %s", d, root)
		}
	}
	for _, d := range hostDeps {
		want = append(want, d.Name)
	}
	slices.Sort(got)
	slices.Sort(want)
	if !slices.Equal(got, want) {
		t.Errorf("dependency names = %q, want %q", got, want)
	}
}

func TestELFIntrospectorSkipsLinkerScripts(t *testing.T) {
	t.Parallel()
	_, obj := hostDynamicBinary(t)
	root := t.TempDir()
	// not an ELF object: the loader would reject it, so must we
	writeTree(t, root, map[string]string{filepath.Join("lib", obj.needed[0]): "GROUP ( libc.so.6 )\n"})

	x := newELFIntrospector(root)
	if _, ok := x.find(obj.needed[0], obj, "/bin"); ok {
		t.Errorf("find(%s) accepted a linker script", obj.needed[0])
	}
}
