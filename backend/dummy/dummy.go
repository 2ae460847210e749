// Package dummy implements the "dummy" Backend variant: a synthetic
// in-memory package source with no on-disk repository format at all. The
// original's DummyPackage (backends/dummy/dummypkg.h, referenced by
// tests-db.cpp, tests-report.cpp and tests-misc.cpp but never shipped as a
// real backend) is a bare settable Package used to exercise the database,
// report and engine layers without a real Debian/Arch/RPM tree on disk;
// this package generalizes that fixture into a configuration-driven
// Backend so the same mechanism is reachable from suite configuration
// (config.cpp maps backendId "dummy" to Backend::Dummy) rather than only
// from test code.
package dummy

import (
	"context"

	"github.com/asgen/asgen/backend"
	"github.com/asgen/asgen/pkgmodel"
)

// Spec describes one synthetic package a Dummy backend should hand back.
type Spec struct {
	Name        string
	Version     string
	Arch        string
	Maintainer  string
	Summary     string
	Description string
	Filename    string
}

// Backend hands back a fixed, caller-supplied set of packages regardless
// of which (suite, section, arch) PackagesFor is asked about, filtering
// only on Arch so multi-arch suite tests get distinct per-arch lists.
type Backend struct {
	specs []Spec
}

var _ backend.Backend = (*Backend)(nil)

func New(specs []Spec) *Backend {
	return &Backend{specs: specs}
}

func (b *Backend) Kind() backend.Kind { return backend.KindDummy }

func (b *Backend) Release() {}

func (b *Backend) PackagesFor(ctx context.Context, suite, section, arch string, withLongDescs bool) ([]pkgmodel.Package, error) {
	var out []pkgmodel.Package
	for _, s := range b.specs {
		if arch != "" && s.Arch != arch {
			continue
		}
		out = append(out, b.newPackage(s))
	}
	return out, nil
}

func (b *Backend) newPackage(s Spec) pkgmodel.Package {
	pkg := pkgmodel.New(s.Name, s.Version, s.Arch, func() ([]string, error) {
		return nil, nil
	}, func(path string) ([]byte, error) {
		return nil, backend.ErrUnsupported
	}, nil)
	pkg.WithMaintainer(s.Maintainer)
	pkg.WithPackageDB(s.Filename)
	if s.Summary != "" {
		pkg.WithSummaryMap(map[string]string{"C": s.Summary})
	}
	if s.Description != "" {
		pkg.WithDescriptionMap(map[string]string{"C": s.Description})
	}
	return pkg
}

// PackageForFile has nothing to search: a dummy package owns no real
// files on disk.
func (b *Backend) PackageForFile(ctx context.Context, path, suite, section string) (pkgmodel.Package, error) {
	return nil, backend.ErrUnsupported
}

// HasChanges always reports a change: the dummy backend has no repository
// mtime to compare against, so every run re-processes its fixed package
// set, matching the literal-coarse policy used by the other backends that
// lack a lightweight staleness signal.
func (b *Backend) HasChanges(ctx context.Context, store backend.RepoMtimeStore, suite, section, arch string) (bool, error) {
	return true, nil
}
