package minfs

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"lukechampine.com/blake3"
)

const symlinkChecksum = "000000"

func hashFile(path string, buf []byte) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New(32, nil)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// ComputeChecksums hashes paths in parallel. The map holds every path that
// could be hashed; the first failure is returned alongside it.
func ComputeChecksums(paths []string) (map[string]string, error) {
	results := make(map[string]string, len(paths))
	if len(paths) == 0 {
		return results, nil
	}

	numWorkers := min(runtime.NumCPU()*2, len(paths))
	jobs := make(chan string, len(paths))
	var mu sync.Mutex
	var wg sync.WaitGroup
	var errOnce sync.Once
	var firstErr error

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, 64*1024)
			for path := range jobs {
				hash, err := hashFile(path, buf)
				mu.Lock()
				if err != nil {
					errOnce.Do(func() { firstErr = err })
				} else {
					results[path] = hash
				}
				mu.Unlock()
			}
		}()
	}
	for _, p := range paths {
		jobs <- p
	}
	close(jobs)
	wg.Wait()

	return results, firstErr
}

// WriteImageChecksum writes "<hex>  <name>" to image+".b3" and returns the digest.
func WriteImageChecksum(image string) (string, error) {
	sum, err := hashFile(image, make([]byte, 64*1024))
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", image, err)
	}
	line := fmt.Sprintf("%s  %s\n", sum, filepath.Base(image))
	if err := os.WriteFile(image+".b3", []byte(line), 0o644); err != nil {
		return "", err
	}
	return sum, nil
}

// VerifyImageChecksum compares image against its .b3 sidecar.
func VerifyImageChecksum(image string) error {
	data, err := os.ReadFile(image + ".b3")
	if err != nil {
		return fmt.Errorf("read checksum: %w", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return fmt.Errorf("empty checksum file %s.b3", image)
	}
	sum, err := hashFile(image, make([]byte, 64*1024))
	if err != nil {
		return err
	}
	if sum != fields[0] {
		return fmt.Errorf("checksum mismatch for %s: expected %s, got %s", image, fields[0], sum)
	}
	return nil
}

// WriteTreeManifest lists every entry of the assembled tree at dir, one per
// line: directories end in '/', files carry their BLAKE3 digest and symlinks
// carry 000000.
func WriteTreeManifest(dir, out string) error {
	type line struct{ path, sum string }
	var lines []line
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil || rel == "." {
			return err
		}
		rel = "/" + filepath.ToSlash(rel)
		switch {
		case d.IsDir():
			lines = append(lines, line{path: rel + "/"})
		case d.Type()&fs.ModeSymlink != 0:
			lines = append(lines, line{path: rel, sum: symlinkChecksum})
		case d.Type().IsRegular():
			lines = append(lines, line{path: rel})
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return err
	}

	sums, err := ComputeChecksums(files)
	if err != nil {
		return err
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()
	sort.Slice(lines, func(i, j int) bool { return lines[i].path < lines[j].path })
	w := bufio.NewWriter(f)
	for _, l := range lines {
		sum := l.sum
		if sum == "" && !strings.HasSuffix(l.path, "/") {
			sum = sums[filepath.Join(dir, l.path)]
		}
		if sum == "" {
			fmt.Fprintln(w, l.path)
		} else {
			fmt.Fprintf(w, "%s  %s\n", l.path, sum)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}
