// Package pkgmodel defines the Package capability (spec §4.3, component
// C3): the shape every backend produces and every later pipeline stage
// (contents seeding, icon search, extraction) consumes.
//
// Grounded on claircore's root Package type (a plain data/capability
// struct with no behavior of its own) generalized into an interface plus a
// Base implementation, since here — unlike claircore's vulnerability
// scanners — packages also need lazy, backend-owned file access and a
// cleanup hook.
package pkgmodel

import (
	"fmt"
	"sync"
)

// ExtraMetainfoFakePkgname is the reserved package name used for the
// injected, non-packaged metainfo unit (spec glossary:
// EXTRA_METAINFO_FAKE_PKGNAME). Keep this literal: generator output strips
// it from any pkgnames field before serialization.
const ExtraMetainfoFakePkgname = "+extra-metainfo"

// Kind distinguishes an ordinarily-packaged unit from the injected fake
// package used to carry repository-maintainer-supplied metainfo.
type Kind int

const (
	Regular Kind = iota
	Fake
)

func (k Kind) String() string {
	if k == Fake {
		return "fake"
	}
	return "regular"
}

// Codec describes a multimedia codec a package provides, consumed by the
// extractor's GStreamer codec-component synthesis (spec §4.8 step 6).
type Codec struct {
	GStreamerElements  []string
	GStreamerURIsinks  []string
	GStreamerURIsrcs   []string
	GStreamerEncoders  []string
	GStreamerDecoders  []string
	GStreamerMimetypes []string
}

// DesktopKeyValueStore is the minimal key/value view over a parsed desktop
// entry file that the Ubuntu backend's gettext-domain lookup needs. It is
// a thin collaborator interface, not a full desktop-entry parser.
type DesktopKeyValueStore interface {
	Value(group, key string) (string, bool)
}

// Package is the capability every backend produces. The zero value of the
// concrete implementation, Base, is not valid; construct one with New.
type Package interface {
	Name() string
	Version() string
	Arch() string
	Maintainer() string
	Kind() Kind
	PackageDB() string

	// Valid reports whether all three identity fields are non-empty.
	Valid() bool

	// Summary and Description look up a locale's short summary / long
	// description. The underlying maps may be shared by reference between
	// packages of different architectures that carry identical text.
	Summary(locale string) (string, bool)
	Description(locale string) (string, bool)
	SummaryMap() map[string]string
	DescriptionMap() map[string]string

	Codec() *Codec

	// Contents returns the package's file list, computed and cached on
	// first call.
	Contents() ([]string, error)
	// FileData returns the bytes of a single named file. Safe to call
	// repeatedly; implementations may cache an open archive handle.
	FileData(path string) ([]byte, error)
	// Finish releases any open handles and removes any temp directory
	// derived from this package. Idempotent.
	Finish() error

	HasDesktopFileTranslations() bool
	DesktopFileTranslations(kv DesktopKeyValueStore, text string) (map[string]string, error)
}

// ContentsFunc lazily computes a package's file list.
type ContentsFunc func() ([]string, error)

// FileDataFunc lazily reads a single file out of a package.
type FileDataFunc func(path string) ([]byte, error)

// Base is the concrete Package implementation backends build on. Its
// identity fields (name, version, arch) are immutable after construction;
// everything else is set via the With* mutators, which are meant to be
// called only by the owning backend while it's still loading the package.
type Base struct {
	name, version, arch string
	maintainer          string
	kind                Kind
	packageDB           string
	codec               *Codec

	// summary/description may be pointers shared between sibling
	// architectures of the same source; guarded by mu for the rare case a
	// backend mutates them concurrently with a reader.
	mu          sync.RWMutex
	summary     map[string]string
	description map[string]string

	contentsFn ContentsFunc
	fileDataFn FileDataFunc
	finishFn   func() error

	contentsOnce sync.Once
	contents     []string
	contentsErr  error

	// desktopTranslationsFn, if set, backs HasDesktopFileTranslations and
	// DesktopFileTranslations. Only the Ubuntu backend installs this, via
	// WithDesktopTranslations.
	desktopTranslationsFn func(DesktopKeyValueStore, string) (map[string]string, error)
}

var _ Package = (*Base)(nil)

// New constructs a Base with its immutable identity. name, version and arch
// must all be non-empty for Valid to report true.
func New(name, version, arch string, contentsFn ContentsFunc, fileDataFn FileDataFunc, finishFn func() error) *Base {
	return &Base{
		name:        name,
		version:     version,
		arch:        arch,
		kind:        Regular,
		summary:     map[string]string{},
		description: map[string]string{},
		contentsFn:  contentsFn,
		fileDataFn:  fileDataFn,
		finishFn:    finishFn,
	}
}

// NewFake constructs the sentinel fake package carrying injected
// extra-metainfo, using ExtraMetainfoFakePkgname as its name.
func NewFake(version, arch string, contentsFn ContentsFunc, fileDataFn FileDataFunc, finishFn func() error) *Base {
	b := New(ExtraMetainfoFakePkgname, version, arch, contentsFn, fileDataFn, finishFn)
	b.kind = Fake
	return b
}

func (b *Base) Name() string       { return b.name }
func (b *Base) Version() string    { return b.version }
func (b *Base) Arch() string       { return b.arch }
func (b *Base) Maintainer() string { return b.maintainer }
func (b *Base) Kind() Kind         { return b.kind }
func (b *Base) PackageDB() string  { return b.packageDB }
func (b *Base) Codec() *Codec      { return b.codec }

// Valid reports whether name, version and arch are all non-empty.
func (b *Base) Valid() bool {
	return b.name != "" && b.version != "" && b.arch != ""
}

// WithMaintainer sets the maintainer string. Backend-only.
func (b *Base) WithMaintainer(m string) *Base { b.maintainer = m; return b }

// WithPackageDB records where in the archive this package's metadata was
// read from, for diagnostics. Backend-only.
func (b *Base) WithPackageDB(p string) *Base { b.packageDB = p; return b }

// WithCodec attaches GStreamer codec metadata. Backend-only.
func (b *Base) WithCodec(c *Codec) *Base { b.codec = c; return b }

// WithSummaryMap and WithDescriptionMap install shared locale maps,
// allowing packages of different architectures built from the same source
// to share identical localized text by reference rather than copying it.
func (b *Base) WithSummaryMap(m map[string]string) *Base {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.summary = m
	return b
}

func (b *Base) WithDescriptionMap(m map[string]string) *Base {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.description = m
	return b
}

func (b *Base) Summary(locale string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.summary[locale]
	return s, ok
}

func (b *Base) Description(locale string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	d, ok := b.description[locale]
	return d, ok
}

func (b *Base) SummaryMap() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.summary
}

func (b *Base) DescriptionMap() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.description
}

// Contents returns the package's file list, memoizing the first
// (possibly I/O-heavy) call.
func (b *Base) Contents() ([]string, error) {
	b.contentsOnce.Do(func() {
		if b.contentsFn == nil {
			b.contentsErr = fmt.Errorf("pkgmodel: %s/%s/%s has no contents source", b.name, b.version, b.arch)
			return
		}
		b.contents, b.contentsErr = b.contentsFn()
	})
	return b.contents, b.contentsErr
}

func (b *Base) FileData(path string) ([]byte, error) {
	if b.fileDataFn == nil {
		return nil, fmt.Errorf("pkgmodel: %s/%s/%s has no file-data source", b.name, b.version, b.arch)
	}
	return b.fileDataFn(path)
}

// Finish is idempotent: subsequent calls are no-ops.
func (b *Base) Finish() error {
	if b.finishFn == nil {
		return nil
	}
	fn := b.finishFn
	b.finishFn = nil
	return fn()
}

// WithDesktopTranslations installs the Ubuntu language-pack gettext lookup
// backing HasDesktopFileTranslations/DesktopFileTranslations. Backend-only.
func (b *Base) WithDesktopTranslations(fn func(DesktopKeyValueStore, string) (map[string]string, error)) *Base {
	b.desktopTranslationsFn = fn
	return b
}

// HasDesktopFileTranslations defaults to false; it's true only for packages
// a backend installed a translations function on (currently just Ubuntu's).
func (b *Base) HasDesktopFileTranslations() bool { return b.desktopTranslationsFn != nil }

func (b *Base) DesktopFileTranslations(kv DesktopKeyValueStore, text string) (map[string]string, error) {
	if b.desktopTranslationsFn == nil {
		return nil, nil
	}
	return b.desktopTranslationsFn(kv, text)
}
