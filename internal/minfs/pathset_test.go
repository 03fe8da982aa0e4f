package minfs

import (
	"slices"
	"sort"
	"testing"
)

func TestDedupe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"empty", nil, nil},
		{"no duplicates", []string{"/a", "/b"}, []string{"/a", "/b"}},
		{"adjacent duplicates", []string{"/a", "/a", "/b"}, []string{"/a", "/b"}},
		{"scattered duplicates", []string{"/b", "/a", "/b", "/c", "/a"}, []string{"/a", "/b", "/c"}},
		{"patterns kept literal", []string{"/lib/libc.so.6*", "/lib/libc.so.6"}, []string{"/lib/libc.so.6", "/lib/libc.so.6*"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Dedupe(tt.in)
			sort.Strings(got)
			if len(got) != len(tt.want) {
				t.Fatalf("Dedupe(%q) = %q, want %q", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Dedupe(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDedupeIdempotent(t *testing.T) {
	t.Parallel()
	in := []string{"/x", "/y", "/x", "/z", "/y"}
	once := Dedupe(in)
	twice := Dedupe(once)
	if !slices.Equal(once, twice) {
		t.Errorf("Dedupe(Dedupe(x)) = %q, want %q", twice, once)
	}
}

func TestDedupeOrderIndependent(t *testing.T) {
	t.Parallel()
	a := Dedupe([]string{"/c", "/a", "/b", "/a"})
	b := Dedupe([]string{"/a", "/b", "/a", "/c"})
	sort.Strings(a)
	sort.Strings(b)
	if !slices.Equal(a, b) {
		t.Errorf("permuted inputs gave %q and %q", a, b)
	}
}

func TestPathSetAdd(t *testing.T) {
	t.Parallel()
	s := newPathSet()
	if !s.add("/a") {
		t.Error("first add of /a reported duplicate")
	}
	if s.add("/a") {
		t.Error("second add of /a reported new")
	}
	s.add("/0")
	if got := s.slice(); !slices.Equal(got, []string{"/a", "/0"}) {
		t.Errorf("slice() = %q, want insertion order", got)
	}
	if got := s.sorted(); !slices.Equal(got, []string{"/0", "/a"}) {
		t.Errorf("sorted() = %q, want lexical order", got)
	}
	if s.len() != 2 {
		t.Errorf("len() = %d, want 2", s.len())
	}
}
