package minfs

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/u-root/u-root/pkg/cpio"
	"github.com/ulikunitz/xz"
	"golang.org/x/sys/unix"
)

type imageFormat struct {
	container   string // cpio, tar, oci
	compression string // "", gz, xz, zst
	ext         string
}

var imageFormats = map[string]imageFormat{
	"cpio":     {container: "cpio", ext: "cpio"},
	"cpio.gz":  {container: "cpio", compression: "gz", ext: "cpio.gz"},
	"cpio.xz":  {container: "cpio", compression: "xz", ext: "cpio.xz"},
	"cpio.zst": {container: "cpio", compression: "zst", ext: "cpio.zst"},
	"tar":      {container: "tar", ext: "tar"},
	"tar.gz":   {container: "tar", compression: "gz", ext: "tar.gz"},
	"tar.xz":   {container: "tar", compression: "xz", ext: "tar.xz"},
	"tar.zst":  {container: "tar", compression: "zst", ext: "tar.zst"},
	"oci":      {container: "oci", ext: "oci.tar"},
}

// ImageFileName returns the file name of an image of the given format.
func ImageFileName(base, format string) string {
	return base + "." + imageFormats[format].ext
}

// formatOf guesses the format of an existing image from its file name.
func formatOf(path string) (string, imageFormat, bool) {
	var best string
	for key, f := range imageFormats {
		if strings.HasSuffix(path, "."+f.ext) && len(f.ext) > len(imageFormats[best].ext) {
			best = key
		}
	}
	if best == "" {
		return "", imageFormat{}, false
	}
	return best, imageFormats[best], true
}

// ImageEntry is one file of an image.
type ImageEntry struct {
	Name     string
	Mode     fs.FileMode
	Size     int64
	Linkname string
	Major    uint32
	Minor    uint32

	src string // file on disk, regular files only
	mod time.Time
}

// collectEntries lists dir (without dir itself) in lexical order and adds
// the device nodes the assembler could not create.
func collectEntries(dir string, devices []DeviceNode) ([]ImageEntry, error) {
	var entries []ImageEntry
	have := make(map[string]bool)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil || rel == "." {
			return err
		}
		info, err := os.Lstat(p)
		if err != nil {
			return err
		}
		e := ImageEntry{Name: filepath.ToSlash(rel), Mode: info.Mode(), mod: info.ModTime()}
		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			if e.Linkname, err = os.Readlink(p); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			e.Size = info.Size()
			e.src = p
		case info.Mode()&fs.ModeDevice != 0:
			if st, ok := info.Sys().(*unix.Stat_t); ok {
				e.Major, e.Minor = unix.Major(uint64(st.Rdev)), unix.Minor(uint64(st.Rdev))
			}
		}
		have[e.Name] = true
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for _, d := range devices {
		n := "dev/" + d.Name
		if have[n] {
			continue
		}
		mode := fs.ModeDevice | d.Mode.Perm()
		if d.Type == 'c' {
			mode |= fs.ModeCharDevice
		}
		entries = append(entries, ImageEntry{Name: n, Mode: mode, Major: d.Major, Minor: d.Minor, mod: now})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func compressWriter(w io.Writer, compression string) (io.WriteCloser, error) {
	switch compression {
	case "gz":
		return pgzip.NewWriter(w), nil
	case "xz":
		return xz.NewWriter(w)
	case "zst":
		return zstd.NewWriter(w)
	}
	return nopWriteCloser{w}, nil
}

func decompressReader(r io.Reader, compression string) (io.ReadCloser, error) {
	switch compression {
	case "gz":
		return pgzip.NewReader(r)
	case "xz":
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	case "zst":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	}
	return io.NopCloser(r), nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func unixMode(m fs.FileMode) uint64 {
	perm := uint64(m.Perm())
	if m&fs.ModeSetuid != 0 {
		perm |= unix.S_ISUID
	}
	if m&fs.ModeSetgid != 0 {
		perm |= unix.S_ISGID
	}
	if m&fs.ModeSticky != 0 {
		perm |= unix.S_ISVTX
	}
	switch {
	case m.IsDir():
		return perm | unix.S_IFDIR
	case m&fs.ModeSymlink != 0:
		return perm | unix.S_IFLNK
	case m&fs.ModeCharDevice != 0:
		return perm | unix.S_IFCHR
	case m&fs.ModeDevice != 0:
		return perm | unix.S_IFBLK
	}
	return perm | unix.S_IFREG
}

func copyContent(w io.Writer, e ImageEntry) error {
	if e.src == "" {
		return nil
	}
	f, err := os.Open(e.src)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.CopyN(w, f, e.Size)
	return err
}

// writeCpio writes entries as an SVR4 "newc" archive, the format the
// kernel unpacks as an initramfs.
func writeCpio(w io.Writer, entries []ImageEntry) error {
	rw := cpio.Newc.Writer(w)
	ino := uint64(300000)
	for _, e := range entries {
		ino++
		info := cpio.Info{
			Ino:    ino,
			Mode:   unixMode(e.Mode),
			NLink:  1,
			MTime:  uint64(e.mod.Unix()),
			Rmajor: uint64(e.Major),
			Rminor: uint64(e.Minor),
			Name:   e.Name,
		}
		if e.Mode.IsDir() {
			info.NLink = 2
		}
		rec := cpio.Record{ReaderAt: strings.NewReader(""), Info: info}
		switch {
		case e.Linkname != "":
			rec.ReaderAt = strings.NewReader(e.Linkname)
			rec.FileSize = uint64(len(e.Linkname))
		case e.src != "":
			f, err := os.Open(e.src)
			if err != nil {
				return fmt.Errorf("%s: %w", e.Name, err)
			}
			rec.ReaderAt = f
			rec.FileSize = uint64(e.Size)
			err = rw.WriteRecord(rec)
			f.Close()
			if err != nil {
				return fmt.Errorf("%s: %w", e.Name, err)
			}
			continue
		}
		if err := rw.WriteRecord(rec); err != nil {
			return fmt.Errorf("%s: %w", e.Name, err)
		}
	}
	return cpio.WriteTrailer(rw)
}

func writeTar(w io.Writer, entries []ImageEntry) error {
	tw := tar.NewWriter(w)
	for _, e := range entries {
		hdr := &tar.Header{
			Name:     e.Name,
			Mode:     int64(e.Mode.Perm()),
			ModTime:  e.mod,
			Linkname: e.Linkname,
			Devmajor: int64(e.Major),
			Devminor: int64(e.Minor),
			Format:   tar.FormatPAX,
			// images must be portably root-owned
			Uid: 0, Gid: 0, Uname: "root", Gname: "root",
		}
		switch {
		case e.Mode.IsDir():
			hdr.Typeflag = tar.TypeDir
			hdr.Name += "/"
		case e.Linkname != "":
			hdr.Typeflag = tar.TypeSymlink
		case e.Mode&fs.ModeCharDevice != 0:
			hdr.Typeflag = tar.TypeChar
		case e.Mode&fs.ModeDevice != 0:
			hdr.Typeflag = tar.TypeBlock
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = e.Size
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if err := copyContent(tw, e); err != nil {
			return fmt.Errorf("%s: %w", e.Name, err)
		}
	}
	return tw.Close()
}

// WriteImage archives the assembled tree into out using format. platform is
// the target architecture recorded in OCI image configs.
func WriteImage(a *Assembly, out, format, platform string) error {
	f, ok := imageFormats[format]
	if !ok {
		return fmt.Errorf("%w: image format %q", errUnknownBackend, format)
	}
	entries, err := collectEntries(a.Dest, a.Devices)
	if err != nil {
		return fmt.Errorf("scan %s: %w", a.Dest, err)
	}

	if f.container == "oci" {
		return writeOCI(entries, out, platform)
	}

	file, err := os.Create(out)
	if err != nil {
		return err
	}
	defer file.Close()
	cw, err := compressWriter(file, f.compression)
	if err != nil {
		return err
	}
	if f.container == "cpio" {
		err = writeCpio(cw, entries)
	} else {
		err = writeTar(cw, entries)
	}
	if err != nil {
		cw.Close()
		return err
	}
	if err := cw.Close(); err != nil {
		return err
	}
	return file.Close()
}

// writeOCI stores the tree as the single layer of an OCI image tarball that
// can be loaded with docker load or podman load.
func writeOCI(entries []ImageEntry, out, platform string) error {
	tmp, err := os.CreateTemp(filepath.Dir(out), ".minfs-layer-*.tar")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := writeTar(tmp, entries); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	layer, err := tarball.LayerFromFile(tmp.Name())
	if err != nil {
		return fmt.Errorf("create layer: %w", err)
	}
	img, err := mutate.AppendLayers(empty.Image, layer)
	if err != nil {
		return fmt.Errorf("append layer: %w", err)
	}
	cfg, err := img.ConfigFile()
	if err != nil {
		return err
	}
	cfg = cfg.DeepCopy()
	cfg.OS = "linux"
	cfg.Architecture = platform
	cfg.Config.Cmd = []string{"/sbin/init"}
	if img, err = mutate.ConfigFile(img, cfg); err != nil {
		return err
	}

	repo := strings.TrimSuffix(filepath.Base(out), ".oci.tar")
	tag, err := name.NewTag("minfs/" + strings.ToLower(repo) + ":latest")
	if err != nil {
		return fmt.Errorf("image tag: %w", err)
	}
	return tarball.WriteToFile(out, tag, img)
}

// ListImage reads back the entries of an image written by WriteImage.
func ListImage(path string) ([]ImageEntry, error) {
	_, f, ok := formatOf(path)
	if !ok {
		return nil, fmt.Errorf("%w: cannot tell the format of %s", errUnknownBackend, path)
	}
	if f.container == "oci" {
		return listOCI(path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	r, err := decompressReader(file, f.compression)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if f.container == "cpio" {
		return listCpio(r)
	}
	return listTar(r)
}

func listCpio(r io.Reader) ([]ImageEntry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	recs, err := cpio.ReadAllRecords(cpio.Newc.Reader(bytes.NewReader(data)))
	if err != nil {
		return nil, err
	}
	out := make([]ImageEntry, 0, len(recs))
	for _, rec := range recs {
		e := ImageEntry{
			Name:  rec.Name,
			Size:  int64(rec.FileSize),
			Major: uint32(rec.Rmajor),
			Minor: uint32(rec.Rminor),
		}
		perm := fs.FileMode(rec.Mode & 0o777)
		switch rec.Mode & unix.S_IFMT {
		case unix.S_IFDIR:
			e.Mode = fs.ModeDir | perm
		case unix.S_IFLNK:
			e.Mode = fs.ModeSymlink | perm
			target, err := io.ReadAll(io.NewSectionReader(rec, 0, int64(rec.FileSize)))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", rec.Name, err)
			}
			e.Linkname = string(target)
		case unix.S_IFCHR:
			e.Mode = fs.ModeDevice | fs.ModeCharDevice | perm
		case unix.S_IFBLK:
			e.Mode = fs.ModeDevice | perm
		default:
			e.Mode = perm
		}
		out = append(out, e)
	}
	return out, nil
}

func listTar(r io.Reader) ([]ImageEntry, error) {
	tr := tar.NewReader(r)
	var out []ImageEntry
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		info := hdr.FileInfo()
		out = append(out, ImageEntry{
			Name:     strings.TrimSuffix(hdr.Name, "/"),
			Mode:     info.Mode(),
			Size:     hdr.Size,
			Linkname: hdr.Linkname,
			Major:    uint32(hdr.Devmajor),
			Minor:    uint32(hdr.Devminor),
		})
	}
}

func listOCI(path string) ([]ImageEntry, error) {
	img, err := tarball.ImageFromPath(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open OCI image: %w", err)
	}
	layers, err := img.Layers()
	if err != nil {
		return nil, fmt.Errorf("get layers: %w", err)
	}
	var out []ImageEntry
	for i, layer := range layers {
		rc, err := layer.Uncompressed()
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		entries, err := listTar(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		out = append(out, entries...)
	}
	return out, nil
}
