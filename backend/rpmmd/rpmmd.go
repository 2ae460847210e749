// Package rpmmd implements the rpmmd Backend variant (spec §4.4): packages
// for a (suite, section, arch) triple come from an RPM-MD "repodata"
// directory — repomd.xml lists the metadata files, primary.xml carries
// package identity and summary/description, filelists.xml carries the
// file list, joined by the "pkgid" checksum attribute.
//
// Grounded on original_source/src/backends/rpmmd/{rpmpkgindex,rpmutils}.cpp.
package rpmmd

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/quay/zlog"

	"github.com/asgen/asgen/archive"
	"github.com/asgen/asgen/backend"
	"github.com/asgen/asgen/fetch"
	"github.com/asgen/asgen/pkgmodel"
)

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

func (b *Backend) Kind() backend.Kind { return backend.KindRpmMd }

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

// repomd mirrors the handful of <data> entries loadPackages cares about:
// the primary and filelists metadata file locations.
type repomd struct {
	Data []struct {
		Type     string `xml:"type,attr"`
		Location struct {
			Href string `xml:"href,attr"`
		} `xml:"location"`
	} `xml:"data"`
}

type primaryMetadata struct {
	Packages []primaryPackage `xml:"package"`
}

type primaryPackage struct {
	Type    string `xml:"type,attr"`
	Name    string `xml:"name"`
	Arch    string `xml:"arch"`
	Version struct {
		Epoch string `xml:"epoch,attr"`
		Ver   string `xml:"ver,attr"`
		Rel   string `xml:"rel,attr"`
	} `xml:"version"`
	Summary     string `xml:"summary"`
	Description string `xml:"description"`
	Packager    string `xml:"packager"`
	Location    struct {
		Href string `xml:"href,attr"`
	} `xml:"location"`
	Checksum struct {
		Pkgid string `xml:"pkgid,attr"`
		Value string `xml:",chardata"`
	} `xml:"checksum"`
}

type filelistsMetadata struct {
	Packages []struct {
		Pkgid string   `xml:"pkgid,attr"`
		Files []string `xml:"file"`
	} `xml:"package"`
}

func (b *Backend) loadPackages(ctx context.Context, suite, section, arch string) ([]pkgmodel.Package, error) {
	repoRoot := fmt.Sprintf("%s/%s/%s/os", suite, section, arch)

	data, err := b.readFile(ctx, repoRoot+"/repodata/repomd.xml")
	if err != nil {
		zlog.Warn(ctx).Err(err).Str("suite", suite).Str("section", section).Str("arch", arch).Msg("rpmmd: could not read repomd.xml")
		return nil, nil
	}

	var md repomd
	if err := xml.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("rpmmd: parsing repomd.xml: %w", err)
	}

	var primaryFiles, filelistFiles []string
	for _, d := range md.Data {
		switch d.Type {
		case "primary":
			primaryFiles = append(primaryFiles, d.Location.Href)
		case "filelists":
			filelistFiles = append(filelistFiles, d.Location.Href)
		}
	}
	if len(primaryFiles) == 0 {
		zlog.Warn(ctx).Msg("rpmmd: no primary metadata found in repomd.xml")
		return nil, nil
	}

	type building struct {
		name, version, arch, maintainer, filename, summary, description string
	}
	pkgMap := map[string]*building{}
	var order []string

	for _, href := range primaryFiles {
		raw, err := b.readFile(ctx, repoRoot+"/"+href)
		if err != nil {
			zlog.Warn(ctx).Err(err).Str("file", href).Msg("rpmmd: could not read primary metadata")
			continue
		}
		var primary primaryMetadata
		if err := xml.Unmarshal(raw, &primary); err != nil {
			zlog.Warn(ctx).Err(err).Str("file", href).Msg("rpmmd: failed to parse primary metadata")
			continue
		}
		for _, pp := range primary.Packages {
			if pp.Type != "" && pp.Type != "rpm" {
				continue
			}
			if pp.Checksum.Value == "" {
				zlog.Warn(ctx).Str("package", pp.Name).Str("file", href).Msg("rpmmd: package has no pkgid checksum, ignoring it")
				continue
			}
			maintainer := pp.Packager
			if maintainer == "" {
				maintainer = "None"
			}
			filename := ""
			if pp.Location.Href != "" {
				filename = repoRoot + "/" + pp.Location.Href
			}
			pkgMap[pp.Checksum.Value] = &building{
				name:        pp.Name,
				version:     formatRPMVersion(pp.Version.Epoch, pp.Version.Ver, pp.Version.Rel),
				arch:        pp.Arch,
				maintainer:  maintainer,
				filename:    filename,
				summary:     pp.Summary,
				description: pp.Description,
			}
			order = append(order, pp.Checksum.Value)
		}
	}

	contentsByPkgid := map[string][]string{}
	for _, href := range filelistFiles {
		raw, err := b.readFile(ctx, repoRoot+"/"+href)
		if err != nil {
			zlog.Warn(ctx).Err(err).Str("file", href).Msg("rpmmd: could not read filelists metadata")
			continue
		}
		var fl filelistsMetadata
		if err := xml.Unmarshal(raw, &fl); err != nil {
			zlog.Warn(ctx).Err(err).Str("file", href).Msg("rpmmd: failed to parse filelists metadata")
			continue
		}
		for _, fp := range fl.Packages {
			if _, ok := pkgMap[fp.Pkgid]; !ok {
				continue
			}
			contentsByPkgid[fp.Pkgid] = append(contentsByPkgid[fp.Pkgid], fp.Files...)
		}
	}

	pkgs := make([]pkgmodel.Package, 0, len(order))
	for _, pkgid := range order {
		bld := pkgMap[pkgid]
		files := contentsByPkgid[pkgid]
		p := pkgmodel.New(bld.name, bld.version, bld.arch,
			func() ([]string, error) { return files, nil },
			b.fileDataFunc(bld.filename),
			nil,
		).WithMaintainer(bld.maintainer).WithPackageDB(pkgid)
		if bld.summary != "" {
			p.WithSummaryMap(map[string]string{"C": bld.summary})
		}
		if bld.description != "" {
			p.WithDescriptionMap(map[string]string{"C": bld.description})
		}
		if !p.Valid() {
			zlog.Warn(ctx).Str("package", bld.name).Msg("rpmmd: found invalid package, skipping it")
			continue
		}
		pkgs = append(pkgs, p)
	}
	zlog.Debug(ctx).Int("count", len(pkgs)).Msg("rpmmd: loaded packages from RPM metadata")
	return pkgs, nil
}

// formatRPMVersion mirrors RPMPackageIndex::loadPackages' version
// formatting: the epoch prefix is dropped entirely when it's empty or "0".
func formatRPMVersion(epoch, ver, rel string) string {
	if epoch == "" || epoch == "0" {
		return fmt.Sprintf("%s-%s", ver, rel)
	}
	return fmt.Sprintf("%s:%s-%s", epoch, ver, rel)
}

// readFile returns the (possibly compressed) contents of a repo-relative
// path, downloading it first if the backend's root is remote.
func (b *Backend) readFile(ctx context.Context, rel string) ([]byte, error) {
	if fetch.IsRemote(b.root.Root) {
		raw, err := b.dl.DownloadBytes(ctx, b.root.Join(rel), b.maxTries())
		if err != nil {
			return nil, err
		}
		rc, err := archive.NewStreamReader(bytes.NewReader(raw), archive.DetectFormat(rel))
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}

	full := b.root.Join(rel)
	f, err := os.Open(full)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rc, err := archive.NewStreamReader(f, archive.DetectFormat(rel))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// fileDataFunc reads a single file out of the package's own RPM archive,
// opened lazily and only on first use. RPMs are cpio-in-lead/header
// containers; spec's file-content operations for RPM-MD only need the
// pre-parsed filelists contents list (already wired above), so this
// delegates to the package's own .rpm file only when a caller asks for
// bytes of a specific path — which the compose step does for payloads
// like desktop files and icons.
func (b *Backend) fileDataFunc(rpmPath string) pkgmodel.FileDataFunc {
	var (
		once  sync.Once
		local string
		err   error
	)
	return func(path string) ([]byte, error) {
		if rpmPath == "" {
			return nil, fmt.Errorf("rpmmd: no package file recorded for %q", path)
		}
		once.Do(func() {
			local, err = b.materialize(context.Background(), rpmPath)
		})
		if err != nil {
			return nil, err
		}
		return readRPMPayloadFile(local, path)
	}
}

func (b *Backend) materialize(ctx context.Context, rel string) (string, error) {
	if !fetch.IsRemote(b.root.Root) {
		return b.root.Join(rel), nil
	}
	tmp, err := os.CreateTemp("", "rpmmd-pkg-*.rpm")
	if err != nil {
		return "", err
	}
	tmp.Close()
	if err := b.dl.DownloadFile(ctx, b.root.Join(rel), tmp.Name(), b.maxTries()); err != nil {
		return "", err
	}
	return tmp.Name(), nil
}

// PackageForFile is not implemented for the RPM-MD backend, matching
// RPMPackageIndex::packageForFile's FIXME stub.
func (b *Backend) PackageForFile(ctx context.Context, fname, suite, section string) (pkgmodel.Package, error) {
	return nil, backend.ErrUnsupported
}

// HasChanges always reports true, matching RPMPackageIndex::hasChanges'
// literal "we currently always assume changes" comment. See DESIGN.md.
func (b *Backend) HasChanges(ctx context.Context, store backend.RepoMtimeStore, suite, section, arch string) (bool, error) {
	return true, nil
}
