// Package nix implements the Nix/nixpkgs Backend variant (spec §4.6):
// unlike the other backends, there is no repository tree to read from
// disk or download — the package list and every file's content come from
// invoking the `nix` and `nix-env` CLIs against a flake reference (suite)
// and flake output (section), with a local nix store (arch) behind it.
//
// Grounded on
// original_source/src/backends/nix/{nixpkgindex,nixpkg,nixindexutils}.cpp.
package nix

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/quay/zlog"

	"github.com/asgen/asgen/backend"
	"github.com/asgen/asgen/pkgmodel"
)

// Backend reads packages out of a Nix store via the nix CLI.
type Backend struct {
	storeURL string
	cacheDir string

	nixExe, nixEnvExe string

	mu    sync.Mutex
	cache map[string][]pkgmodel.Package
}

var _ backend.Backend = (*Backend)(nil)

// New creates a Backend that queries the Nix store at storeURL (e.g.
// "daemon" for the local store, or a binary cache URL), caching generated
// package listings and store-path indexes under cacheDir.
func New(storeURL, cacheDir string) *Backend {
	return &Backend{
		storeURL:  storeURL,
		cacheDir:  cacheDir,
		nixExe:    findExecutable("nix"),
		nixEnvExe: findExecutable("nix-env"),
		cache:     map[string][]pkgmodel.Package{},
	}
}

func (b *Backend) Kind() backend.Kind { return backend.KindNix }

func (b *Backend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache = map[string][]pkgmodel.Package{}
}

// PackagesFor memoizes by "suite-section-arch"; withLongDescs is ignored,
// as a Nix package's meta.longDescription is always cheap to read once
// packages.json has been generated.
func (b *Backend) PackagesFor(ctx context.Context, suite, section, arch string, withLongDescs bool) ([]pkgmodel.Package, error) {
	key := suite + "-" + section + "-" + arch
	b.mu.Lock()
	if cached, ok := b.cache[key]; ok {
		b.mu.Unlock()
		return cached, nil
	}
	b.mu.Unlock()

	pkgs, err := b.loadPackages(ctx, suite, section, arch)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.cache[key] = pkgs
	b.mu.Unlock()
	return pkgs, nil
}

func (b *Backend) loadPackages(ctx context.Context, suite, section, arch string) ([]pkgmodel.Package, error) {
	if b.nixExe == "" {
		zlog.Error(ctx).Msg("nix: nix binary not found, cannot load packages")
		return nil, nil
	}

	pkgRoot := filepath.Join(b.cacheDir, suite, section, arch)
	packagesPath := filepath.Join(pkgRoot, "packages.json")

	if err := generatePackagesIfNecessary(ctx, b.nixExe, b.nixEnvExe, suite, section, packagesPath); err != nil {
		zlog.Error(ctx).Err(err).Msg("nix: failed to generate packages.json")
		return nil, nil
	}

	var pf packagesFile
	if err := readJSONFile(packagesPath, &pf); err != nil {
		zlog.Error(ctx).Err(err).Str("file", packagesPath).Msg("nix: failed to parse packages.json")
		return nil, nil
	}

	interesting, err := getInterestingPkgs(ctx, b.nixExe, b.storeURL, filepath.Join(pkgRoot, "index"), pf.Packages)
	if err != nil {
		zlog.Error(ctx).Err(err).Msg("nix: failed to index interesting packages")
		return nil, nil
	}

	attrs := make([]string, 0, len(interesting))
	for attr := range interesting {
		attrs = append(attrs, attr)
	}
	sort.Slice(attrs, func(i, j int) bool { return packagePriority(attrs[i]) < packagePriority(attrs[j]) })

	claimed := map[string]bool{}
	var pkgs []pkgmodel.Package
	for _, attr := range attrs {
		info := interesting[attr]

		duplicate := false
		for df := range info.desktopFiles {
			if claimed[df] {
				duplicate = true
				break
			}
		}
		if duplicate {
			zlog.Debug(ctx).Str("attr", attr).Msg("nix: skipping package whose desktop files are already claimed")
			continue
		}
		for df := range info.desktopFiles {
			claimed[df] = true
		}

		pkgAttr, output := splitAttrOutput(attr)
		entry, ok := pf.Packages[pkgAttr]
		if !ok {
			zlog.Error(ctx).Str("attr", pkgAttr).Msg("nix: attribute not found in packages.json")
			continue
		}

		// When this output is one nix would install implicitly, drop the
		// redundant ".<output>" suffix from the attribute name.
		finalAttr := attr
		for _, o := range entry.Meta.OutputsToInstall {
			if o == output && strings.HasSuffix(finalAttr, "."+output) {
				finalAttr = strings.TrimSuffix(finalAttr, "."+output)
				break
			}
		}

		pkgs = append(pkgs, b.newPackage(finalAttr, info.storePath, entry))
	}

	return pkgs, nil
}

func (b *Backend) newPackage(attr, storePath string, entry nixPackageEntry) pkgmodel.Package {
	archive := newStorePathArchive(b.nixExe, b.storeURL, b.cacheDir, storePath)

	p := pkgmodel.New(attr, entry.Version, entry.System,
		archive.contents, archive.fileData, nil)
	if entry.Meta.Description != "" {
		p.WithSummaryMap(map[string]string{"C": entry.Meta.Description, "en": entry.Meta.Description})
	}
	if entry.Meta.LongDescription != "" {
		desc := fmt.Sprintf("<p>%s</p>", escapeXML(entry.Meta.LongDescription))
		p.WithDescriptionMap(map[string]string{"C": desc, "en": desc})
	}
	p.WithPackageDB(storePath)
	return p
}

func escapeXML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

// PackageForFile is not implemented for the Nix backend, matching
// NixPackageIndex::packageForFile.
func (b *Backend) PackageForFile(ctx context.Context, fname, suite, section string) (pkgmodel.Package, error) {
	return nil, backend.ErrUnsupported
}

// HasChanges always reports true, matching NixPackageIndex::hasChanges's
// literal "for simplicity, always assume changes" comment. See DESIGN.md.
func (b *Backend) HasChanges(ctx context.Context, store backend.RepoMtimeStore, suite, section, arch string) (bool, error) {
	return true, nil
}
