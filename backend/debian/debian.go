// Package debian implements the Debian-style package-index backend (spec
// §4.4): tag-file-based Packages/Translation parsing over a local directory
// or remote mirror, with dpkg version ordering and shared per-locale text
// between sibling architectures.
//
// Grounded on original_source/src/backends/debian/{debpkgindex,debpkg}.cpp:
// the same load-highest-version-per-name, probe-three-extensions, and
// shared-DebPackageLocaleTexts shapes, reimplemented with Go's package
// construction (pkgmodel.Base + closures) in place of the C++ class
// hierarchy, per the "deep inheritance" redesign note.
package debian

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/quay/zlog"

	"github.com/asgen/asgen"
	"github.com/asgen/asgen/archive"
	"github.com/asgen/asgen/backend"
	"github.com/asgen/asgen/backend/internal/tagfile"
	"github.com/asgen/asgen/fetch"
	"github.com/asgen/asgen/pkgmodel"
)

// indexExtensions is the probe order for compressed tag files: first
// successful open wins, per spec §4.4.
var indexExtensions = []string{".xz", ".bz2", ".gz"}

// localeText is the per (name, version) shared summary/description pair,
// grounded on DebPackageLocaleTexts: packages of different architectures
// built from the same source share one of these by reference so identical
// translated text is stored once in memory.
type localeText struct {
	mu          sync.Mutex
	summary     map[string]string
	description map[string]string
}

func newLocaleText() *localeText {
	return &localeText{summary: map[string]string{}, description: map[string]string{}}
}

func (l *localeText) setSummary(locale, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.summary[locale] = text
}

func (l *localeText) setDescription(locale, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.description[locale] = text
}

// Backend reads Debian-style archives. The zero value is not usable;
// construct one with New.
type Backend struct {
	root backend.ArchiveRoot
	dl   *fetch.Downloader
	kind backend.Kind

	mu          sync.Mutex
	cache       map[string][]pkgmodel.Package
	localeTexts map[string]*localeText

	// OnPackage, if set, is called once for every package this backend
	// constructs, right after its identity and description are populated
	// but before it's returned to the caller. This is the decorator point
	// the Ubuntu backend uses to install its language-pack provider,
	// instead of overriding package construction through inheritance.
	OnPackage func(*pkgmodel.Base)
}

var _ backend.Backend = (*Backend)(nil)

// New constructs a Debian-style backend rooted at root, using dl for any
// remote fetches.
func New(root backend.ArchiveRoot, dl *fetch.Downloader) *Backend {
	return &Backend{
		root:        root,
		dl:          dl,
		kind:        backend.KindDebian,
		cache:       map[string][]pkgmodel.Package{},
		localeTexts: map[string]*localeText{},
	}
}

func (b *Backend) Kind() backend.Kind { return b.kind }

// Release drops the packagesFor memoization cache and the locale-text
// dedup index, per spec S1's "releasing the backend" scenario.
func (b *Backend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache = map[string][]pkgmodel.Package{}
	b.localeTexts = map[string]*localeText{}
}

func (b *Backend) maxTries() int {
	if b.root.MaxDownloadTries < 1 {
		return 1
	}
	return b.root.MaxDownloadTries
}

// PackagesFor enumerates the highest-versioned package of each name in
// (suite, section, arch), memoized by that triple.
func (b *Backend) PackagesFor(ctx context.Context, suite, section, arch string, withLongDescs bool) ([]pkgmodel.Package, error) {
	key := suite + "/" + section + "/" + arch

	b.mu.Lock()
	if cached, ok := b.cache[key]; ok {
		b.mu.Unlock()
		return cached, nil
	}
	b.mu.Unlock()

	pkgs, err := b.loadPackages(ctx, suite, section, arch, withLongDescs)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.cache[key] = pkgs
	b.mu.Unlock()
	return pkgs, nil
}

func (b *Backend) loadPackages(ctx context.Context, suite, section, arch string, withLongDescs bool) ([]pkgmodel.Package, error) {
	indexBase := fmt.Sprintf("dists/%s/%s/binary-%s/Packages", suite, section, arch)
	rc, foundExt, err := b.openProbed(ctx, indexBase)
	if err != nil {
		zlog.Warn(ctx).Err(err).Str("index", indexBase).Msg("debian: archive package index file does not exist")
		return nil, nil
	}
	defer rc.Close()

	recs, err := tagfile.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("backend/debian: parsing %s%s: %w", indexBase, foundExt, err)
	}

	picked := make(map[string]tagfile.Record, len(recs))
	for _, rec := range recs {
		name := rec.Get("Package")
		if name == "" {
			continue
		}
		if existing, ok := picked[name]; ok {
			if compareVersions(existing.Get("Version"), rec.Get("Version")) >= 0 {
				continue
			}
		}
		picked[name] = rec
	}

	byName := make(map[string]*pkgmodel.Base, len(picked))
	result := make([]pkgmodel.Package, 0, len(picked))
	for name, rec := range picked {
		ver := rec.Get("Version")
		actualArch := arch
		if rec.Get("Architecture") == "all" {
			actualArch = "all"
		}

		p := newDebPackage(b, name, ver, actualArch, rec.Get("Filename"))
		p.WithMaintainer(rec.Get("Maintainer"))
		p.WithPackageDB(indexBase + foundExt)

		if desc := rec.Get("Description"); desc != "" {
			summary, description := splitOldStyleDescription(desc)
			lt := newLocaleText()
			lt.setSummary("C", summary)
			lt.setDescription("C", description)
			p.WithSummaryMap(lt.summary)
			p.WithDescriptionMap(lt.description)
		}

		if codec := parseCodec(rec); codec != nil {
			p.WithCodec(codec)
		}
		if b.OnPackage != nil {
			b.OnPackage(p)
		}

		byName[name] = p
		result = append(result, p)
	}

	if withLongDescs {
		b.loadPackageLongDescs(ctx, suite, section, byName)
	}

	return result, nil
}

// splitOldStyleDescription splits the legacy single-field "Description"
// value into its first-line summary and paragraph-formatted remainder.
func splitOldStyleDescription(raw string) (summary, description string) {
	lines := strings.Split(raw, "\n")
	if len(lines) == 0 {
		return "", ""
	}
	summary = strings.TrimSpace(lines[0])
	if len(lines) < 2 {
		return summary, ""
	}
	return summary, descLinesToParagraphs(lines[1:])
}

// descLinesToParagraphs renders continuation lines of a long description
// into "<p>...</p>" blocks, treating a lone "." (already collapsed to an
// empty line by the tag-file parser) as a paragraph break.
func descLinesToParagraphs(lines []string) string {
	var b strings.Builder
	b.WriteString("<p>")
	first := true
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			b.WriteString("</p>\n<p>")
			first = true
			continue
		}
		if first {
			first = false
		} else {
			b.WriteByte(' ')
		}
		b.WriteString(escapeXML(trimmed))
	}
	b.WriteString("</p>")
	return b.String()
}

func escapeXML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

func parseCodec(rec tagfile.Record) *pkgmodel.Codec {
	split := func(s string) []string {
		if s == "" {
			return nil
		}
		parts := strings.Split(s, ";")
		for i, p := range parts {
			parts[i] = strings.TrimSpace(p)
		}
		return parts
	}
	c := &pkgmodel.Codec{
		GStreamerDecoders:  split(rec.Get("Gstreamer-Decoders")),
		GStreamerEncoders:  split(rec.Get("Gstreamer-Encoders")),
		GStreamerElements:  split(rec.Get("Gstreamer-Elements")),
		GStreamerURIsinks:  split(rec.Get("Gstreamer-Uri-Sinks")),
		GStreamerURIsrcs:   split(rec.Get("Gstreamer-Uri-Sources")),
		GStreamerMimetypes: nil,
	}
	if len(c.GStreamerDecoders) == 0 && len(c.GStreamerEncoders) == 0 && len(c.GStreamerElements) == 0 &&
		len(c.GStreamerURIsinks) == 0 && len(c.GStreamerURIsrcs) == 0 {
		return nil
	}
	return c
}

// findTranslations extracts the set of available Translation-<lang> locales
// for (suite, section) by scanning dists/<suite>/InRelease for matching file
// entries, per the original's regex scan. If InRelease can't be read,
// "en" is assumed available.
func (b *Backend) findTranslations(ctx context.Context, suite, section string) []string {
	rc, err := b.openOne(ctx, fmt.Sprintf("dists/%s/InRelease", suite))
	if err != nil {
		zlog.Debug(ctx).Err(err).Str("suite", suite).Msg("debian: could not get InRelease, assuming 'en' is available")
		return []string{"en"}
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return []string{"en"}
	}

	pattern := regexp.MustCompile(regexp.QuoteMeta(section) + `/i18n/Translation-(\w+)`)
	seen := map[string]bool{}
	var langs []string
	for _, m := range pattern.FindAllStringSubmatch(string(data), -1) {
		lang := m[1]
		if !seen[lang] {
			seen[lang] = true
			langs = append(langs, lang)
		}
	}
	if len(langs) == 0 {
		return []string{"en"}
	}
	return langs
}

func (b *Backend) loadPackageLongDescs(ctx context.Context, suite, section string, pkgs map[string]*pkgmodel.Base) {
	langs := b.findTranslations(ctx, suite, section)
	zlog.Debug(ctx).Strs("langs", langs).Msg("debian: found translations")

	for _, lang := range langs {
		base := fmt.Sprintf("dists/%s/%s/i18n/Translation-%s", suite, section, lang)
		rc, _, err := b.openProbed(ctx, base)
		if err != nil {
			zlog.Debug(ctx).Str("lang", lang).Str("suite", suite).Str("section", section).Msg("debian: no translations for this language/section")
			continue
		}

		recs, err := tagfile.ReadAll(rc)
		rc.Close()
		if err != nil {
			zlog.Warn(ctx).Err(err).Str("lang", lang).Msg("debian: failed parsing translation file")
			continue
		}

		for _, rec := range recs {
			name := rec.Get("Package")
			rawDesc := rec.Get("Description-" + lang)
			if name == "" || rawDesc == "" {
				continue
			}
			p, ok := pkgs[name]
			if !ok {
				continue
			}

			textPkgID := p.Name() + "/" + p.Version()
			b.mu.Lock()
			lt, ok := b.localeTexts[textPkgID]
			if !ok {
				lt = &localeText{summary: p.SummaryMap(), description: p.DescriptionMap()}
				b.localeTexts[textPkgID] = lt
			}
			b.mu.Unlock()

			lines := strings.Split(rawDesc, "\n")
			if len(lines) < 2 {
				continue
			}
			summary := strings.TrimSpace(lines[0])
			description := descLinesToParagraphs(lines[1:])

			if lang == "en" {
				lt.setSummary("C", summary)
				lt.setDescription("C", description)
			}
			lt.setSummary(lang, summary)
			lt.setDescription(lang, description)

			p.WithSummaryMap(lt.summary)
			p.WithDescriptionMap(lt.description)
		}
	}
}

// PackageForFile reads a single .deb's control information directly,
// bypassing normal (suite, section, arch) enumeration. Debian-style is the
// only backend that implements this, per spec §4.4.
func (b *Backend) PackageForFile(ctx context.Context, path, suite, section string) (pkgmodel.Package, error) {
	tmpDir, err := os.MkdirTemp("", "asgen-debian-file-*")
	if err != nil {
		return nil, fmt.Errorf("backend/debian: creating temp dir: %w", err)
	}

	local := path
	if fetch.IsRemote(path) {
		local = filepath.Join(tmpDir, filepath.Base(path))
		if err := b.dl.DownloadFile(ctx, path, local, b.maxTries()); err != nil {
			os.RemoveAll(tmpDir)
			return nil, fmt.Errorf("backend/debian: fetching %q: %w", path, err)
		}
	}

	_, data, err := extractArMember(local, "control.tar")
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("backend/debian: reading control data of %q: %w", path, err)
	}
	controlTar := filepath.Join(tmpDir, "control.tar")
	if err := os.WriteFile(controlTar, data, 0o644); err != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("backend/debian: writing control archive: %w", err)
	}

	cr := archive.Open(controlTar)
	defer cr.Close()
	controlData, err := cr.ReadData("control")
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("backend/debian: %q has no control file: %w", path, err)
	}
	rec, err := tagfile.NewReader(bytes.NewReader(controlData)).Next()
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("backend/debian: parsing control file of %q: %w", path, err)
	}

	name, ver, arch := rec.Get("Package"), rec.Get("Version"), rec.Get("Architecture")
	if name == "" || ver == "" || arch == "" {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("backend/debian: %q is missing identity fields in its control file", path)
	}

	p := newDebPackageAtPath(b, name, ver, arch, local, tmpDir)
	p.WithMaintainer(rec.Get("Maintainer"))
	if desc := rec.Get("Description"); desc != "" {
		summary, description := splitOldStyleDescription(desc)
		lt := newLocaleText()
		lt.setSummary("C", summary)
		lt.setDescription("C", description)
		p.WithSummaryMap(lt.summary)
		p.WithDescriptionMap(lt.description)
	}
	if b.OnPackage != nil {
		b.OnPackage(p)
	}

	return p, nil
}

// HasChanges compares the package index's mtime against the value recorded
// in store for (suite, section, arch), updating the stored value as a side
// effect, per spec §4.4.
func (b *Backend) HasChanges(ctx context.Context, store backend.RepoMtimeStore, suite, section, arch string) (bool, error) {
	indexBase := fmt.Sprintf("dists/%s/%s/binary-%s/Packages", suite, section, arch)
	mtime, found := b.indexMtime(ctx, indexBase)
	if !found {
		// Missing index: loadPackages will warn; treat as changed so the
		// caller attempts the (empty) load and moves on.
		return true, nil
	}

	key := asgen.NewRepoKey(suite, section, arch)
	prev, ok, err := store.RepoMtime(ctx, key)
	if err != nil {
		return false, fmt.Errorf("backend/debian: reading stored mtime for %s: %w", key, err)
	}
	changed := !ok || prev != mtime
	if err := store.SetRepoMtime(ctx, key, mtime); err != nil {
		return false, fmt.Errorf("backend/debian: recording mtime for %s: %w", key, err)
	}
	return changed, nil
}

// indexMtime returns the mtime of whichever of the three probed extensions
// exists, in epoch seconds. Only the local-filesystem case can answer this
// cheaply; a remote root always reports "changed" by returning found=false,
// which HasChanges treats as needing a refresh.
func (b *Backend) indexMtime(ctx context.Context, base string) (mtime int64, found bool) {
	if fetch.IsRemote(b.root.Root) {
		return 0, false
	}
	for _, ext := range indexExtensions {
		full := filepath.Join(b.root.Root, base+ext)
		info, err := os.Stat(full)
		if err == nil {
			return info.ModTime().Unix(), true
		}
	}
	return 0, false
}

// openProbed tries relBase+ext for each ext in indexExtensions, in order,
// returning the first successfully opened stream.
func (b *Backend) openProbed(ctx context.Context, relBase string) (io.ReadCloser, string, error) {
	var lastErr error
	for _, ext := range indexExtensions {
		rc, err := b.openOne(ctx, relBase+ext)
		if err == nil {
			return rc, ext, nil
		}
		lastErr = err
	}
	return nil, "", lastErr
}

func (b *Backend) openOne(ctx context.Context, rel string) (io.ReadCloser, error) {
	if fetch.IsRemote(b.root.Root) {
		data, err := b.dl.DownloadBytes(ctx, b.root.Join(rel), b.maxTries())
		if err != nil {
			return nil, err
		}
		return archive.NewStreamReader(bytes.NewReader(data), archive.DetectFormat(rel))
	}
	full := filepath.Join(b.root.Root, rel)
	if _, err := os.Stat(full); err != nil {
		return nil, err
	}
	return archive.OpenStream(full)
}
