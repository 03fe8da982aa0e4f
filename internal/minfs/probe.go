package minfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ContentProber describes what a file contains, in the vocabulary of file(1)
// ("ELF 32-bit LSB executable", "ASCII text", "symbolic link to ...").
type ContentProber interface {
	Describe(path string) (string, error)
}

// NewContentProber returns the backend selected by s.Prober, wrapped in the
// persistent cache when s.ProbeCache is set. The returned close function
// must be called when the run ends.
func NewContentProber(s *Settings, run commandRunner) (ContentProber, func() error, error) {
	var p ContentProber
	switch s.Prober {
	case "file":
		p = &fileProber{run: run}
	case "native":
		p = nativeProber{}
	default:
		return nil, nil, fmt.Errorf("%w: prober %q", errUnknownBackend, s.Prober)
	}
	if s.ProbeCache == "" {
		return p, func() error { return nil }, nil
	}
	cache, err := openProbeCache(s.ProbeCache, p)
	if err != nil {
		return nil, nil, err
	}
	return cache, cache.Close, nil
}

// fileProber asks file(1).
type fileProber struct {
	run commandRunner
}

func (f *fileProber) Describe(path string) (string, error) {
	out, err := f.run.Output("file", "--brief", path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrManifestProbe, path, err)
	}
	desc := firstLine(out)
	if desc == "" {
		return "", fmt.Errorf("%w: %s: empty description", ErrManifestProbe, path)
	}
	return desc, nil
}

// nativeProber recognises the handful of content kinds the classifier
// cares about from the file's mode and leading bytes.
type nativeProber struct{}

func (nativeProber) Describe(path string) (string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrManifestProbe, err)
	}
	mode := info.Mode()
	switch {
	case mode&os.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrManifestProbe, err)
		}
		return "symbolic link to " + target, nil
	case mode.IsDir():
		return "directory", nil
	case !mode.IsRegular():
		return "special", nil
	case info.Size() == 0:
		return "empty", nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrManifestProbe, err)
	}
	defer f.Close()
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", fmt.Errorf("%w: %v", ErrManifestProbe, err)
	}
	return describeBytes(head[:n]), nil
}

func describeBytes(head []byte) string {
	if len(head) >= 18 && bytes.HasPrefix(head, []byte("\x7fELF")) {
		return describeELF(head)
	}
	if bytes.HasPrefix(head, []byte("#!")) {
		line, _, _ := bytes.Cut(head[2:], []byte("\n"))
		fields := strings.Fields(string(line))
		interp := "shell"
		if len(fields) > 0 {
			interp = filepath.Base(fields[0])
			if interp == "env" && len(fields) > 1 {
				interp = fields[1]
			}
		}
		return interp + " script text executable"
	}
	ascii := true
	for _, b := range head {
		if b >= 0x80 || (b < 0x20 && b != '\n' && b != '\r' && b != '\t' && b != '\f') {
			ascii = false
			break
		}
	}
	if ascii {
		return "ASCII text"
	}
	if utf8.Valid(head) && !bytes.ContainsRune(head, 0) {
		return "UTF-8 Unicode text"
	}
	return "data"
}

func describeELF(head []byte) string {
	class := "32-bit"
	if head[4] == 2 {
		class = "64-bit"
	}
	var order binary.ByteOrder = binary.LittleEndian
	endian := "LSB"
	if head[5] == 2 {
		order = binary.BigEndian
		endian = "MSB"
	}
	kind := "executable"
	switch order.Uint16(head[16:18]) {
	case 1:
		kind = "relocatable"
	case 3:
		kind = "shared object"
	case 4:
		kind = "core file"
	}
	return fmt.Sprintf("ELF %s %s %s", class, endian, kind)
}
