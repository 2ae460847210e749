// Package ubuntu implements the ubuntu Backend variant (spec §4.4): a thin
// decorator over backend/debian that additionally resolves desktop-entry
// translations from language-pack-* packages. Grounded on
// original_source/src/backends/ubuntu/{ubupkgindex,ubupkg}.cpp, which
// subclass the Debian backend/package types; here the same customization is
// expressed as composition, per the spec's "prefer composition over
// subclassing" redesign note.
package ubuntu

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/asgen/asgen/backend"
	"github.com/asgen/asgen/backend/debian"
	"github.com/asgen/asgen/fetch"
	"github.com/asgen/asgen/pkgmodel"
)

// Backend wraps a debian.Backend, installing a language-pack-aware
// desktop-translation hook on every package it constructs and collecting
// any language-pack-* packages it encounters along the way.
type Backend struct {
	*debian.Backend

	tmpDir    string
	langpacks *languagePackProvider

	mu      sync.Mutex
	scanned map[string]bool
}

var _ backend.Backend = (*Backend)(nil)

// New constructs an Ubuntu backend rooted at root, using dl for any remote
// fetches and tmpDir as the base directory for extracted language packs and
// generated locales.
func New(root backend.ArchiveRoot, dl *fetch.Downloader, tmpDir string) *Backend {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	b := &Backend{
		Backend:   debian.New(root, dl),
		tmpDir:    tmpDir,
		langpacks: newLanguagePackProvider(tmpDir),
		scanned:   map[string]bool{},
	}
	b.Backend.OnPackage = b.installTranslations
	return b
}

func (b *Backend) Kind() backend.Kind { return backend.KindUbuntu }

// installTranslations is the debian.Backend.OnPackage hook: it gives every
// constructed package a desktop-translation lookup backed by this backend's
// language-pack provider, resolving the gettext domain from the desktop
// entry's Ubuntu- or GNOME-specific key, falling back to the package name.
func (b *Backend) installTranslations(p *pkgmodel.Base) {
	p.WithDesktopTranslations(func(kv pkgmodel.DesktopKeyValueStore, text string) (map[string]string, error) {
		domain, ok := kv.Value("Desktop Entry", "X-Ubuntu-Gettext-Domain")
		if !ok || domain == "" {
			domain, ok = kv.Value("Desktop Entry", "X-GNOME-Gettext-Domain")
		}
		if !ok || domain == "" {
			domain = p.Name()
		}
		return b.langpacks.getTranslations(context.Background(), domain, text), nil
	})
}

// PackagesFor delegates to the embedded Debian backend, then scans the
// result for language-pack-* packages so their locale data becomes
// available to subsequent desktop-translation lookups in this repository.
func (b *Backend) PackagesFor(ctx context.Context, suite, section, arch string, withLongDescs bool) ([]pkgmodel.Package, error) {
	pkgs, err := b.Backend.PackagesFor(ctx, suite, section, arch, withLongDescs)
	if err != nil {
		return nil, err
	}

	key := suite + "/" + section + "/" + arch
	b.mu.Lock()
	alreadyScanned := b.scanned[key]
	if !alreadyScanned {
		b.scanned[key] = true
	}
	b.mu.Unlock()
	if alreadyScanned {
		return pkgs, nil
	}

	var langpacks []pkgmodel.Package
	for _, p := range pkgs {
		if strings.HasPrefix(p.Name(), "language-pack-") {
			langpacks = append(langpacks, p)
		}
	}
	if len(langpacks) > 0 {
		b.langpacks.addLanguagePacks(langpacks)
	}
	return pkgs, nil
}

// Release drops the embedded backend's per-repository cache and starts a
// fresh language-pack provider, so a later run against a different suite
// doesn't resolve translations against a stale extraction.
func (b *Backend) Release() {
	b.Backend.Release()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scanned = map[string]bool{}
	b.langpacks = newLanguagePackProvider(b.tmpDir)
}

// PackageForFile is unsupported for Ubuntu, matching the original's
// UbuntuPackageIndex, which never implemented single-file package loading.
func (b *Backend) PackageForFile(ctx context.Context, path, suite, section string) (pkgmodel.Package, error) {
	return nil, backend.ErrUnsupported
}
