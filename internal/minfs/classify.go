package minfs

import (
	"fmt"
	"strings"
)

// Classifier decides which manifest entries of an owning package belong in
// the closure. The decision depends only on the path and the content
// descriptor returned by the prober.
type Classifier struct {
	elfMarker string
}

// NewClassifier returns a Classifier for a target whose ELF objects are
// elfClass-bit.
func NewClassifier(elfClass int) *Classifier {
	if elfClass != 64 {
		elfClass = 32
	}
	return &Classifier{elfMarker: fmt.Sprintf("ELF %d-bit", elfClass)}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// inExecDir reports whether one of the path's directory components is bin or sbin.
func inExecDir(path string) bool {
	parts := strings.Split(path, "/")
	for _, p := range parts[:len(parts)-1] {
		if p == "bin" || p == "sbin" {
			return true
		}
	}
	return false
}

// isDocumentation matches the paths the /share/ rule never accepts.
func isDocumentation(path string) bool {
	return containsAny(path, "/doc/", "/man/", "READ", "info")
}

// Accept applies the classification table. Rules are additive; an entry
// accepted by several rules is still accepted once.
func (c *Classifier) Accept(path, descriptor string) bool {
	if descriptor == "" {
		return false
	}
	if inExecDir(path) && containsAny(descriptor, "ASCII", "script text") {
		return true
	}
	if strings.Contains(path, "/etc/") && containsAny(descriptor, "ASCII", "script text", "data", "text") {
		return true
	}
	if strings.Contains(path, "/lib") && containsAny(descriptor, "ASCII", "script text", c.elfMarker, "symbolic link to") {
		return true
	}
	if !isDocumentation(path) && strings.Contains(path, "/share/") &&
		containsAny(descriptor, "ASCII", "script text", "magic", "data") {
		return true
	}
	return false
}
