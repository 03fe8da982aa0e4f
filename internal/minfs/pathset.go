package minfs

import "sort"

// pathSet is an insertion-ordered set of paths.
type pathSet struct {
	index map[string]struct{}
	order []string
}

func newPathSet(paths ...string) *pathSet {
	s := &pathSet{index: make(map[string]struct{}, len(paths))}
	s.addAll(paths)
	return s
}

// add inserts p and reports whether it was new.
func (s *pathSet) add(p string) bool {
	if _, ok := s.index[p]; ok {
		return false
	}
	s.index[p] = struct{}{}
	s.order = append(s.order, p)
	return true
}

func (s *pathSet) addAll(paths []string) {
	for _, p := range paths {
		s.add(p)
	}
}

func (s *pathSet) has(p string) bool {
	_, ok := s.index[p]
	return ok
}

func (s *pathSet) len() int { return len(s.order) }

// slice returns the elements in first-seen order.
func (s *pathSet) slice() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// sorted returns the elements in lexical order.
func (s *pathSet) sorted() []string {
	out := s.slice()
	sort.Strings(out)
	return out
}

// Dedupe removes duplicate paths. Callers must not rely on the output order.
func Dedupe(paths []string) []string {
	return newPathSet(paths...).slice()
}
