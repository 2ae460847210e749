// Package freebsd is a stub Backend for the "freebsd" Kind: spec §6 lists
// it as an accepted configuration value, but the specification never
// describes its package-enumeration contract, and the original FreeBSD
// backend was itself a stub at the time this was written. It accepts
// configuration and reports backend.ErrUnsupported from every
// data-producing method rather than guessing at a pkg(8)-repository
// format.
package freebsd

import (
	"context"

	"github.com/asgen/asgen/backend"
	"github.com/asgen/asgen/pkgmodel"
)

// Backend is an intentionally unimplemented placeholder; see the package
// doc comment and DESIGN.md's "freebsd backend contract" decision.
type Backend struct {
	root backend.ArchiveRoot
}

var _ backend.Backend = (*Backend)(nil)

func New(root backend.ArchiveRoot) *Backend {
	return &Backend{root: root}
}

func (b *Backend) Kind() backend.Kind { return backend.KindFreeBSD }

func (b *Backend) Release() {}

func (b *Backend) PackagesFor(ctx context.Context, suite, section, arch string, withLongDescs bool) ([]pkgmodel.Package, error) {
	return nil, backend.ErrUnsupported
}

func (b *Backend) PackageForFile(ctx context.Context, path, suite, section string) (pkgmodel.Package, error) {
	return nil, backend.ErrUnsupported
}

func (b *Backend) HasChanges(ctx context.Context, store backend.RepoMtimeStore, suite, section, arch string) (bool, error) {
	return false, backend.ErrUnsupported
}
