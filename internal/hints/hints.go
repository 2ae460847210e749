// Package hints loads the hint-tag severity table the report generator
// (C12) and result adapter (C9) both need: every tag asgen can raise,
// classified pedantic/info/warning/error, plus its human-readable
// explanation text.
//
// Grounded on original_source/src/hintregistry.cpp's "asgen-hints.json"
// table loaded once at process start and consulted by tag name everywhere
// a hint is raised or rendered; SPEC_FULL.md's "Hint registry severities
// drive exit-code-free report coloring" supplemented feature calls this
// out explicitly since spec.md's distillation dropped it. Unlike the
// original's mutable global-singleton table populated from an external
// file, this is a build-time literal map — see "Global mutable state" in
// spec.md's Design Notes ("represent them as immutable values built once
// at startup").
package hints

import "github.com/asgen/asgen"

// Definition is one hint tag's registry entry.
type Definition struct {
	Tag      string
	Severity asgen.Severity
	Text     string
}

// registry is the full hint-tag table; every tag this module raises
// anywhere must be listed here, or it falls back to Warning with the
// "internal-unknown-tag" explanation (see SeverityFor).
var registry = map[string]Definition{
	"no-metainfo": {
		Tag: "no-metainfo", Severity: asgen.Info,
		Text: "This package ships no AppStream metainfo file.",
	},
	"description-from-package": {
		Tag: "description-from-package", Severity: asgen.Info,
		Text: "Long description was backfilled from package metadata.",
	},
	"description-missing": {
		Tag: "description-missing", Severity: asgen.Warning,
		Text: "Component has no long description and none could be backfilled.",
	},
	"metainfo-duplicate-id": {
		Tag: "metainfo-duplicate-id", Severity: asgen.Error,
		Text: "This component id was already provided by a different package.",
	},
	"no-install-candidate": {
		Tag: "no-install-candidate", Severity: asgen.Warning,
		Text: "Component has no way to be installed (no bundled package reference).",
	},
	"icon-not-found": {
		Tag: "icon-not-found", Severity: asgen.Warning,
		Text: "Could not find an icon matching the component's declared icon name.",
	},
	"icon-format-unsupported": {
		Tag: "icon-format-unsupported", Severity: asgen.Warning,
		Text: "Icon reference uses a file format asgen does not support.",
	},
	"icon-too-small": {
		Tag: "icon-too-small", Severity: asgen.Info,
		Text: "Icon source image is smaller than the minimum accepted raster size.",
	},
	"icon-scaled-up": {
		Tag: "icon-scaled-up", Severity: asgen.Pedantic,
		Text: "Icon was scaled up from a smaller source image to reach the requested size.",
	},
	"image-write-error": {
		Tag: "image-write-error", Severity: asgen.Error,
		Text: "Failed to render or write an icon or screenshot image.",
	},
	"internal-error": {
		Tag: "internal-error", Severity: asgen.Error,
		Text: "An internal error occurred while processing this package.",
	},
	"internal-unknown-tag": {
		Tag: "internal-unknown-tag", Severity: asgen.Warning,
		Text: "A hint tag was raised with no registry entry.",
	},
}

// SeverityFor returns tag's registered severity, defaulting to Warning
// for an unregistered tag (mirroring the original's "unknown severity"
// fallback path in asc_globals_hint_tag_severity).
func SeverityFor(tag string) asgen.Severity {
	if d, ok := registry[tag]; ok {
		return d.Severity
	}
	return asgen.Warning
}

// TextFor returns tag's explanation text, or "" if unregistered.
func TextFor(tag string) string {
	return registry[tag].Text
}

// IsFatal reports whether a hint with this tag invalidates the component
// it's attached to — spec §4.9's "some tags cause the compose library to
// mark the component invalid." This module treats Error severity as the
// exact boundary: an invented decision (the distilled spec doesn't name
// which tags are fatal), recorded in DESIGN.md.
func IsFatal(tag string) bool {
	return SeverityFor(tag) == asgen.Error
}
