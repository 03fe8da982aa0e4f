package minfs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func elfHeader(class, data byte, typ uint16) []byte {
	h := make([]byte, 64)
	copy(h, "\x7fELF")
	h[4], h[5], h[6] = class, data, 1
	if data == 2 {
		h[16], h[17] = byte(typ>>8), byte(typ)
	} else {
		h[16], h[17] = byte(typ), byte(typ>>8)
	}
	return h
}

func TestDescribeBytes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		head []byte
		want string
	}{
		{"elf32 exec", elfHeader(1, 1, 2), "ELF 32-bit LSB executable"},
		{"elf32 shared", elfHeader(1, 1, 3), "ELF 32-bit LSB shared object"},
		{"elf64 shared", elfHeader(2, 1, 3), "ELF 64-bit LSB shared object"},
		{"elf32 msb", elfHeader(1, 2, 3), "ELF 32-bit MSB shared object"},
		{"elf relocatable", elfHeader(1, 1, 1), "ELF 32-bit LSB relocatable"},
		{"sh script", []byte("#!/bin/sh\necho hi\n"), "sh script text executable"},
		{"env script", []byte("#!/usr/bin/env python3\n"), "python3 script text executable"},
		{"bare shebang", []byte("#!\n"), "shell script text executable"},
		{"ascii", []byte("root:x:0:0:root:/root:/bin/sh\n"), "ASCII text"},
		{"utf8", []byte("caf\xc3\xa9\n"), "UTF-8 Unicode text"},
		{"binary", []byte{0x00, 0x01, 0xff, 0xfe}, "data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := describeBytes(tt.head); got != tt.want {
				t.Errorf("describeBytes = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNativeProber(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"etc/ls.conf":       "COLOR tty\n",
		"lib/libfoo.so.1.2": string(elfHeader(1, 1, 3)),
		"etc/empty":         "",
	})
	symlink(t, "libfoo.so.1.2", filepath.Join(root, "lib/libfoo.so.1"))

	tests := []struct {
		rel  string
		want string
	}{
		{"etc/ls.conf", "ASCII text"},
		{"lib/libfoo.so.1.2", "ELF 32-bit LSB shared object"},
		{"lib/libfoo.so.1", "symbolic link to libfoo.so.1.2"},
		{"etc", "directory"},
		{"etc/empty", "empty"},
	}
	var p nativeProber
	for _, tt := range tests {
		got, err := p.Describe(filepath.Join(root, tt.rel))
		if err != nil {
			t.Errorf("Describe(%s): %v", tt.rel, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Describe(%s) = %q, want %q", tt.rel, got, tt.want)
		}
	}

	_, err := p.Describe(filepath.Join(root, "missing"))
	if !errors.Is(err, ErrManifestProbe) {
		t.Errorf("Describe(missing) error = %v, want ErrManifestProbe", err)
	}
}

func TestFileProber(t *testing.T) {
	t.Parallel()
	run := &scriptedRunner{out: []byte("ASCII text\n")}
	got, err := (&fileProber{run: run}).Describe("/r/etc/ls.conf")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if got != "ASCII text" {
		t.Errorf("Describe = %q, want %q", got, "ASCII text")
	}
	if len(run.calls) != 1 || run.calls[0][1] != "--brief" {
		t.Errorf("calls = %q", run.calls)
	}

	for _, r := range []*scriptedRunner{
		{err: os.ErrNotExist},
		{out: []byte("\n")},
	} {
		if _, err := (&fileProber{run: r}).Describe("/x"); !errors.Is(err, ErrManifestProbe) {
			t.Errorf("Describe error = %v, want ErrManifestProbe", err)
		}
	}
}

func TestNewContentProberUnknown(t *testing.T) {
	t.Parallel()
	_, _, err := NewContentProber(&Settings{Prober: "magic"}, nil)
	if !errors.Is(err, errUnknownBackend) {
		t.Errorf("err = %v, want errUnknownBackend", err)
	}
}
