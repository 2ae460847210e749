// Package alpine implements the Alpine Linux Backend variant (spec §4.5):
// packages for a (suite, section, arch) triple are read from a single
// "APKINDEX.tar.gz" whose sole member, "APKINDEX", is a flat text index
// of blank-line-separated package blocks.
//
// Grounded on
// original_source/src/backends/alpinelinux/{apkpkgindex,apkpkg,apkindexutils}.cpp.
package alpine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/quay/zlog"

	"github.com/asgen/asgen/archive"
	"github.com/asgen/asgen/backend"
	"github.com/asgen/asgen/fetch"
	"github.com/asgen/asgen/pkgmodel"
)

// Backend reads APKINDEX-style repository listings.
type Backend struct {
	root backend.ArchiveRoot
	dl   *fetch.Downloader

	mu    sync.Mutex
	cache map[string][]pkgmodel.Package
}

var _ backend.Backend = (*Backend)(nil)

func New(root backend.ArchiveRoot, dl *fetch.Downloader) *Backend {
	return &Backend{root: root, dl: dl, cache: map[string][]pkgmodel.Package{}}
}

func (b *Backend) Kind() backend.Kind { return backend.KindAlpine }

func (b *Backend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache = map[string][]pkgmodel.Package{}
}

func (b *Backend) maxTries() int {
	if b.root.MaxDownloadTries > 0 {
		return b.root.MaxDownloadTries
	}
	return 3
}

// PackagesFor memoizes by "suite/section/arch"; withLongDescs is ignored,
// as an APKINDEX block carries only a single short description field.
func (b *Backend) PackagesFor(ctx context.Context, suite, section, arch string, withLongDescs bool) ([]pkgmodel.Package, error) {
	key := suite + "/" + section + "/" + arch
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
	pkgRoot := fmt.Sprintf("%s/%s/%s", suite, section, arch)
	indexName := pkgRoot + "/APKINDEX.tar.gz"

	local, err := b.materializeTo(ctx, indexName, "alpine-index-*.tar.gz")
	if err != nil {
		zlog.Warn(ctx).Err(err).Str("file", indexName).Msg("alpine: APKINDEX does not exist")
		return nil, nil
	}

	rd := archive.Open(local)
	indexData, err := rd.ReadData("/APKINDEX")
	if err != nil {
		return nil, fmt.Errorf("alpine: reading APKINDEX member of %s: %w", indexName, err)
	}

	// Group by computed archive filename the way AlpinePackageIndex::loadPackages
	// does, so a package split across index blocks converges on one entry.
	byFile := map[string]*apkIndexBlock{}
	var order []string
	for _, blk := range parseAPKIndex(indexData) {
		fname := blk.archiveName()
		if _, ok := byFile[fname]; !ok {
			order = append(order, fname)
		}
		cp := blk
		byFile[fname] = &cp
	}

	pkgs := make([]pkgmodel.Package, 0, len(order))
	for _, fname := range order {
		blk := byFile[fname]
		if blk.name == "" || blk.version == "" || blk.arch == "" {
			zlog.Warn(ctx).Str("file", fname).Msg("alpine: found invalid package, skipping it")
			continue
		}
		pkgFilename := pkgRoot + "/" + fname
		p := pkgmodel.New(blk.name, blk.version, blk.arch,
			b.contentsFunc(pkgFilename),
			b.fileDataFunc(pkgFilename),
			nil,
		).WithMaintainer(blk.maintainer).WithPackageDB(indexName)
		if blk.description != "" {
			p.WithDescriptionMap(map[string]string{"C": fmt.Sprintf("<p>%s</p>", escapeXML(blk.description))})
		}
		pkgs = append(pkgs, p)
	}
	return pkgs, nil
}

func escapeXML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

// localPackage lazily materializes a package's own .apk to a local path,
// shared between the contents and file-data closures below so a remote
// package is only downloaded once.
func (b *Backend) localPackage(pkgFilename string) func() (string, error) {
	var (
		once sync.Once
		path string
		err  error
	)
	return func() (string, error) {
		once.Do(func() {
			path, err = b.materializeTo(context.Background(), pkgFilename, "alpine-pkg-*.apk")
		})
		return path, err
	}
}

// contentsFunc lists the member names of the package's own .apk (a
// gzip-compressed tar, the same container format archive.Reader already
// understands), matching AlpinePackage::contents opening the archive
// itself rather than reading a separate file list out of the index.
func (b *Backend) contentsFunc(pkgFilename string) pkgmodel.ContentsFunc {
	local := b.localPackage(pkgFilename)
	return func() ([]string, error) {
		path, err := local()
		if err != nil {
			return nil, err
		}
		rd := archive.Open(path)
		defer rd.Close()
		var files []string
		for {
			entry, nerr := rd.Next()
			if errors.Is(nerr, io.EOF) {
				break
			}
			if nerr != nil {
				return nil, fmt.Errorf("alpine: listing %s: %w", pkgFilename, nerr)
			}
			if entry.Kind == archive.KindFile {
				files = append(files, entry.Pathname)
			}
		}
		return files, nil
	}
}

// fileDataFunc returns a FileDataFunc reading a single named file out of
// the package's own .apk, materialized lazily and only on first use.
func (b *Backend) fileDataFunc(pkgFilename string) pkgmodel.FileDataFunc {
	local := b.localPackage(pkgFilename)
	return func(reqPath string) ([]byte, error) {
		path, err := local()
		if err != nil {
			return nil, err
		}
		return archive.Open(path).ReadData(reqPath)
	}
}

// materializeTo returns a local path for rel, downloading it to a temp
// file matching pattern first if the backend's root is remote.
func (b *Backend) materializeTo(ctx context.Context, rel, pattern string) (string, error) {
	full := b.root.Join(rel)
	if !fetch.IsRemote(b.root.Root) {
		if _, err := os.Stat(full); err != nil {
			return "", err
		}
		return full, nil
	}
	tmp, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", err
	}
	tmp.Close()
	if err := b.dl.DownloadFile(ctx, full, tmp.Name(), b.maxTries()); err != nil {
		return "", err
	}
	return tmp.Name(), nil
}

// PackageForFile is not implemented for the Alpine backend, matching
// AlpinePackageIndex::packageForFile.
func (b *Backend) PackageForFile(ctx context.Context, fname, suite, section string) (pkgmodel.Package, error) {
	return nil, backend.ErrUnsupported
}

// HasChanges always reports true, matching
// AlpinePackageIndex::hasChanges's literal "for simplicity, always assume
// changes" comment. See DESIGN.md.
func (b *Backend) HasChanges(ctx context.Context, store backend.RepoMtimeStore, suite, section, arch string) (bool, error) {
	return true, nil
}
