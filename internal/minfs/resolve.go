package minfs

import (
	"errors"
	"fmt"
)

// Resolver computes the file list one command needs at run time: the binary,
// the shared libraries it links against, and the classified auxiliary files
// of its owning package.
type Resolver struct {
	Root       string
	DB         PackageDatabase
	Linker     LinkerIntrospector
	Prober     ContentProber
	Classifier *Classifier

	warn func(Warning)
}

// Resolve returns the deduplicated closure entries for bin. Unresolved
// libraries and unprobeable manifest entries are reported as warnings and
// skipped; only collaborator failures are returned as errors.
func (r *Resolver) Resolve(bin *ResolvedBinary) ([]string, error) {
	set := newPathSet(bin.Path)

	deps, err := r.Linker.DependenciesOf(bin.Path)
	if err != nil {
		return nil, fmt.Errorf("dependencies of %s: %w", bin.Path, err)
	}
	for _, d := range deps {
		if !d.Resolved {
			r.report(Warning{
				Command: bin.Command,
				Path:    d.Name,
				Err:     ErrUnresolvedLibrary,
			})
			continue
		}
		set.add(d.Path)
	}

	files, err := r.DB.ListFiles(bin.Package)
	if err != nil {
		return nil, fmt.Errorf("manifest of %s: %w", bin.Package, err)
	}
	for _, f := range files {
		if set.has(f) {
			continue
		}
		desc, err := r.Prober.Describe(f)
		if err != nil {
			// a directory the package owns but did not install is routine
			if !errors.Is(err, ErrManifestProbe) {
				err = fmt.Errorf("%w: %v", ErrManifestProbe, err)
			}
			debugf("rejecting %s: %v\n", f, err)
			continue
		}
		if r.Classifier.Accept(relToRoot(r.Root, f), desc) {
			debugf("accepting %s (%s)\n", f, desc)
			set.add(f)
		}
	}
	return set.slice(), nil
}

func (r *Resolver) report(w Warning) {
	if r.warn != nil {
		r.warn(w)
	}
}
