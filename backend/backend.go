// Package backend defines the per-distro package-index abstraction (spec
// §4.4, component C4) and the shared Backend interface every concrete
// reader (debian, ubuntu, arch, rpmmd, alpine, nix, freebsd, dummy)
// implements.
//
// Per the "dynamic dispatch" design note, backend polymorphism is the
// engine's only hot-loop dispatch point; rather than model it with
// open-ended interface embedding depth, Kind gives callers an explicit
// tagged variant to switch on when they need distro-specific behavior
// (e.g. process-file, which only the Debian-style reader implements).
package backend

import (
	"context"
	"errors"

	"github.com/asgen/asgen"
	"github.com/asgen/asgen/pkgmodel"
)

// Kind tags which concrete backend a Backend value is, per the "explicit
// tagged variant" design note (SPEC_FULL.md, Design Notes).
type Kind string

const (
	KindDummy   Kind = "dummy"
	KindDebian  Kind = "debian"
	KindUbuntu  Kind = "ubuntu"
	KindArch    Kind = "arch"
	KindRpmMd   Kind = "rpmmd"
	KindAlpine  Kind = "alpinelinux"
	KindFreeBSD Kind = "freebsd"
	KindNix     Kind = "nix"
)

// ErrUnsupported is returned by PackageForFile on backends that don't
// implement single-file lookup (every backend except Debian-style, per
// spec §4.4).
var ErrUnsupported = errors.New("backend: operation not supported by this backend")

// RepoMtimeStore is the slice of the data store (C6) a backend needs to
// short-circuit unchanged indexes: read and record the mtime of whatever
// index file that backend considers authoritative for a repository key.
type RepoMtimeStore interface {
	RepoMtime(ctx context.Context, key asgen.RepoKey) (mtime int64, ok bool, err error)
	SetRepoMtime(ctx context.Context, key asgen.RepoKey, mtime int64) error
}

// Backend enumerates packages in a (suite, section, architecture) triple
// of a distribution archive and streams their file contents on demand.
//
// PackagesFor memoizes its result by the "suite/section/arch" key, so
// repeated calls within one engine run return the exact same slice; call
// Release to invalidate that cache.
type Backend interface {
	Kind() Kind

	PackagesFor(ctx context.Context, suite, section, arch string, withLongDescs bool) ([]pkgmodel.Package, error)

	// PackageForFile resolves a single package by path outside of normal
	// enumeration (CLI verb "process-file"). Backends that don't support
	// this return ErrUnsupported.
	PackageForFile(ctx context.Context, path, suite, section string) (pkgmodel.Package, error)

	// HasChanges reports whether the index backing (suite, section, arch)
	// has changed since the last recorded mtime. Some backends (Arch,
	// RPM-MD, Alpine, Nix) report this coarsely as always-true; see
	// DESIGN.md's "Open Question" entry.
	HasChanges(ctx context.Context, store RepoMtimeStore, suite, section, arch string) (bool, error)

	// Release drops the PackagesFor memoization cache.
	Release()
}

// ArchiveRoot abstracts "a local path or URL prefix" (spec §6's
// ArchiveRoot config key) so backends can be constructed against either a
// directory on disk or a remote mirror without caring which.
type ArchiveRoot struct {
	// Root is the archive root: either a filesystem path or a URL prefix.
	Root string
	// CAInfo is an optional TLS CA bundle path, forwarded to the fetch
	// package when Root is remote.
	CAInfo string
	// MaxDownloadTries bounds retries for any index or media fetched from
	// a remote Root.
	MaxDownloadTries int
}

// Join appends parts to the archive root, inserting "/" separators as
// needed. Used to build both filesystem paths and URLs.
func (a ArchiveRoot) Join(parts ...string) string {
	p := a.Root
	for _, part := range parts {
		if p != "" && p[len(p)-1] != '/' {
			p += "/"
		}
		p += part
	}
	return p
}
