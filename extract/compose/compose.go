// Package compose is the black-box interface over an external AppStream
// metadata compose engine (spec §4.8, C8's collaborator). The real asgen
// project links against libappstream-compose, a C/GObject library with no
// Go binding anywhere in the example pack (confirmed against
// original_source/src/extractor.h, which calls straight into
// <appstream-compose.h>); Engine below is this module's black-box
// boundary, and DefaultEngine is a from-scratch, pure-Go implementation of
// the subset of compose behavior spec §4.8 actually drives: desktop-entry
// and AppStream metainfo-XML discovery, icon-reference collection, and
// gcid minting.
package compose

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Kind is a component's AppStream component type.
type Kind string

const (
	KindDesktopApp Kind = "desktop-app"
	KindConsoleApp Kind = "console-app"
	KindWebApp     Kind = "web-app"
	KindGeneric    Kind = "generic"
	KindCodec      Kind = "codec"
	KindOS         Kind = "operating-system"
	KindRepository Kind = "repository"
	KindFont       Kind = "font"
)

// Icon is a single icon reference a component carries (a "stock" name to
// resolve via the icon handler, or a pre-resolved cached/remote name).
type Icon struct {
	Kind string // "stock", "cached", "remote", "local"
	Name string
}

// Component is the compose engine's view of one emitted AppStream
// component, before C8's post-processing (icon resolution, description
// backfill, codec synthesis, modification injection) runs over it.
type Component struct {
	ID   string
	Kind Kind

	Name        map[string]string
	Summary     map[string]string
	Description map[string]string

	Icons    []Icon
	PkgNames []string
	Custom   map[string]string

	// HasInstallCandidate is set when the compose engine resolved at
	// least one way to install this component (a bundled package, a
	// flatpak ref, etc).
	HasInstallCandidate bool

	// DesktopFileID, when set, is the source .desktop file's path,
	// recorded so C8's translation callback can find it again.
	DesktopFileID string

	// Gcid is populated by the engine's internal gcid-minting step;
	// callers don't need to set it.
	Gcid string
}

// Valid reports whether cpt is considered well-formed enough to keep; the
// real compose library can mark a component invalid in response to a
// hint (see result.AddHint's return value).
func (c *Component) Valid() bool { return c.ID != "" }

// Flags are the feature toggles spec §4.8 says configuration maps onto the
// compose library.
type Flags struct {
	Validate              bool
	DesktopEntries        bool
	Locale                bool
	Font                  bool
	GStreamer             bool
	Screenshots           bool
	ScreenshotVideos      bool
	MetainfoArtifacts     bool
	CustomKeys            bool
	MaxScreenshotFileSize int64 // bytes; 0 means unlimited
}

// DesktopTranslationFunc forwards a desktop-entry group/key lookup to a
// package's getDesktopFileTranslations implementation (spec §4.8 step 2).
type DesktopTranslationFunc func(kv KeyValueStore, text string) (map[string]string, error)

// KeyValueStore mirrors pkgmodel.DesktopKeyValueStore without importing
// pkgmodel, so compose stays a leaf package extract can sit on top of
// without a cycle; exported so a caller installing a
// DesktopTranslationFunc from outside this package (extract, C8) can
// name the parameter type directly.
type KeyValueStore interface {
	Value(group, key string) (string, bool)
}

// Result is everything one Run produces: the components the unit yielded
// plus any engine-internal diagnostics (malformed XML, unreadable desktop
// entries) that aren't yet attached to a component id.
type Result struct {
	Components []*Component
	Warnings   []string
}

// Unit abstracts "a container of files" — the thing the compose engine
// reads components out of. A pkgmodel.Package satisfies this directly via
// Contents/FileData.
type Unit struct {
	ID        string // the package id or synthetic id driving this run
	ListFiles func() ([]string, error)
	ReadFile  func(path string) ([]byte, error)
}

// Engine is the black-box compose-library boundary. A single Engine value
// is reset and reused across packages, mirroring the teacher-adjacent
// original's single long-lived AscCompose instance (original_source's
// extractor.h: "m_compose" held for the DataExtractor's lifetime).
type Engine interface {
	// Reset clears any per-package state left over from a previous Run.
	Reset()
	// SetFlags installs the feature flags driving this and future runs
	// until changed again.
	SetFlags(Flags)
	// SetDesktopTranslationCallback installs the per-package desktop-file
	// translation forwarder (spec §4.8 step 2); pass nil to clear it.
	SetDesktopTranslationCallback(fn DesktopTranslationFunc)
	// SetIntermediateCheck installs spec §4.8 step 3's early check,
	// called once per component the engine discovers, before the
	// component is finalized into the Result. Returning false drops the
	// component from the result (but its Gcid is still minted and
	// returned via gcid).
	SetIntermediateCheck(fn func(gcid string, cpt *Component) bool)
	// Run executes the compose pipeline over unit and returns its result.
	Run(ctx context.Context, unit Unit) (*Result, error)
	// Finalize runs the compose library's closing pass over result (spec
	// §4.8 step 7): validation, cross-component consistency checks.
	Finalize(ctx context.Context, result *Result) error
}

// Gcid mints the global component id spec §4.8/§4.9 treat as opaque:
// sha256 of "<componentID>/<digestInput>", hex-encoded. digestInput is
// normally the unit's content-derived identity (spec.md leaves the exact
// digest input to the implementation; original_source/src/utils.cpp
// computes a gcid from the component id plus a package-contents hash,
// which this mirrors using the package id as a stand-in content digest
// since full per-file hashing is out of scope here).
func Gcid(componentID, digestInput string) string {
	sum := sha256.Sum256([]byte(componentID + "/" + digestInput))
	return hex.EncodeToString(sum[:])
}
