// Package extract implements the extractor (spec §4.8, C8): the
// per-package pipeline that runs the compose engine over one package's
// files, resolves icons, backfills missing long descriptions, synthesizes
// GStreamer codec components, applies repository-owner modifications, and
// hands back a result.Result ready for the data store.
//
// Grounded on original_source/src/extractor.cpp's DataExtractor::
// processPackage, which this module's Extractor.ProcessPackage follows
// step for step at the level of detail spec §4.8 documents.
package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/asgen/asgen"
	"github.com/asgen/asgen/extract/compose"
	"github.com/asgen/asgen/icon"
	"github.com/asgen/asgen/pkgmodel"
	"github.com/asgen/asgen/result"
	"github.com/asgen/asgen/store/data"
)

// Modifications is the subset of the modifications loader (C10) the
// extractor consumes. Declared here, rather than importing
// modifications directly, so this package's dependency on C10 runs one
// way: modifications.Store (once built) satisfies this interface, but
// extract never needs modifications' JSON-loading machinery.
type Modifications interface {
	// IsRemoved reports whether the repository owner's configuration
	// removes componentID outright.
	IsRemoved(componentID string) bool
	// InjectedCustom returns the custom key/value pairs the repository
	// owner wants merged into componentID, if any.
	InjectedCustom(componentID string) (map[string]string, bool)
}

// noInstallExemptKinds are the component kinds spec §4.8 exempts from
// the "no-install-candidate" check, since web apps, full OS images, and
// repositories legitimately have no bundled package reference.
var noInstallExemptKinds = map[compose.Kind]bool{
	compose.KindWebApp:     true,
	compose.KindOS:         true,
	compose.KindRepository: true,
}

// descriptionEligibleKinds are the component kinds spec §4.8 backfills a
// long description for when none was supplied in metainfo.
var descriptionEligibleKinds = map[compose.Kind]bool{
	compose.KindDesktopApp: true,
	compose.KindConsoleApp: true,
	compose.KindWebApp:     true,
}

// Extractor runs spec §4.8's per-package pipeline.
type Extractor struct {
	Compose compose.Engine
	Icons   *icon.Handler
	Store   *data.Store
	Format  data.MetadataFormat
	Mods    Modifications // nil when the suite has no modifications configured

	ComposeFlags     compose.Flags
	IconPolicy       icon.PolicyConfig
	UpscaleIcons     bool
	ProcessGStreamer bool
}

// NewExtractor constructs an Extractor over an already-configured
// compose.Engine and icon.Handler.
func NewExtractor(engine compose.Engine, icons *icon.Handler, store *data.Store, format data.MetadataFormat) *Extractor {
	return &Extractor{
		Compose: engine,
		Icons:   icons,
		Store:   store,
		Format:  format,
	}
}

// ProcessPackage runs the full 11-step pipeline spec §4.8 describes over
// pkg, returning the accumulated result. The caller owns handing the
// result to store/data.Store.AddGeneratorResult.
func (e *Extractor) ProcessPackage(ctx context.Context, pkid asgen.Pkid, pkg pkgmodel.Package) (*result.Result, error) {
	res := result.New(pkid)
	isFake := pkg.Kind() == pkgmodel.Fake

	// step 1: reset compose instance to clear state from any previous package.
	e.Compose.Reset()
	e.Compose.SetFlags(e.ComposeFlags)

	// step 2: install the desktop-entry translation forwarder, when the
	// package backend supplies one (currently only Ubuntu language packs).
	if pkg.HasDesktopFileTranslations() {
		e.Compose.SetDesktopTranslationCallback(func(kv compose.KeyValueStore, text string) (map[string]string, error) {
			return pkg.DesktopFileTranslations(kv, text)
		})
	} else {
		e.Compose.SetDesktopTranslationCallback(nil)
	}

	// step 3: install the early intermediate check — drop components
	// whose metadata was already generated by a previous run, flagging
	// metainfo-duplicate-id when a different package now claims the id.
	e.Compose.SetIntermediateCheck(func(gcid string, cpt *compose.Component) bool {
		return e.checkIntermediate(pkid, pkg, res, gcid, cpt)
	})

	pkgName, _, _, err := pkid.Parse()
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	// step 4: run the compose pipeline over the package's files.
	paths, err := pkg.Contents()
	if err != nil {
		return nil, fmt.Errorf("extract: list contents for %s: %w", pkid, err)
	}
	unit := compose.Unit{
		ID:        string(pkid),
		ListFiles: func() ([]string, error) { return paths, nil },
		ReadFile:  pkg.FileData,
	}
	cres, err := e.Compose.Run(ctx, unit)
	if err != nil {
		return nil, fmt.Errorf("extract: compose run for %s: %w", pkid, err)
	}
	for _, w := range cres.Warnings {
		res.AddHintMessage("", "internal-error", w)
	}

	// step 5: per-component icon resolution and description backfill.
	for _, cpt := range cres.Components {
		gcid := res.AddComponent(cpt)

		if cpt.DesktopFileID != "" {
			res.AddHint(cpt.ID, "no-metainfo", nil)
		}

		if len(cpt.Icons) > 0 {
			if !e.resolveIcons(ctx, pkid, pkgName, isFake, gcid, res, cpt) {
				continue
			}
		}

		e.backfillDescription(pkg, res, cpt)
	}

	// step 6: synthesize a GStreamer codec component, if configured and
	// the package declares any codec-providing elements.
	if e.ProcessGStreamer {
		if codec := pkg.Codec(); codec != nil && codecNotEmpty(codec) {
			e.synthesizeCodecComponent(pkg, pkgName, res)
		}
	}

	// step 7: finalize; the compose engine may drop components here
	// (e.g. failing schema validation), so reconcile res's bookkeeping.
	// Only components the compose run produced are subject to this; the
	// synthesized codec component from step 6 is never in cres.
	composed := map[string]bool{}
	for _, cpt := range cres.Components {
		composed[cpt.ID] = true
	}
	if err := e.Compose.Finalize(ctx, cres); err != nil {
		return nil, fmt.Errorf("extract: finalize for %s: %w", pkid, err)
	}
	kept := map[string]bool{}
	for _, cpt := range cres.Components {
		kept[cpt.ID] = true
	}
	for _, cpt := range res.Components() {
		if composed[cpt.ID] && !kept[cpt.ID] {
			res.RemoveComponent(cpt.ID)
		}
	}

	// steps 8-10: injected modifications, no-install-candidate, and
	// fake-package pkgnames sentinel stripping.
	for _, cpt := range res.Components() {
		if e.Mods != nil {
			if e.Mods.IsRemoved(cpt.ID) {
				res.RemoveComponent(cpt.ID)
				continue
			}
			if custom, ok := e.Mods.InjectedCustom(cpt.ID); ok {
				if cpt.Custom == nil {
					cpt.Custom = map[string]string{}
				}
				for k, v := range custom {
					cpt.Custom[k] = v
				}
			}
		}

		if len(cpt.PkgNames) == 0 {
			if !noInstallExemptKinds[cpt.Kind] && !cpt.HasInstallCandidate {
				res.AddHint(cpt.ID, "no-install-candidate", nil)
			}
			continue
		}
		if isFake {
			filtered := cpt.PkgNames[:0]
			for _, p := range cpt.PkgNames {
				if p != pkgmodel.ExtraMetainfoFakePkgname {
					filtered = append(filtered, p)
				}
			}
			cpt.PkgNames = filtered
		}
	}

	// step 11: release the package's resources.
	if err := pkg.Finish(); err != nil {
		return nil, fmt.Errorf("extract: finish package %s: %w", pkid, err)
	}
	return res, nil
}

// checkIntermediate implements spec §4.8 step 3's early duplicate check.
func (e *Extractor) checkIntermediate(pkid asgen.Pkid, pkg pkgmodel.Package, res *result.Result, gcid string, cpt *compose.Component) bool {
	exists, err := e.Store.HasMetadata(e.Format, asgen.GCID(gcid))
	if err != nil || !exists {
		return true
	}
	if pkg.Kind() == pkgmodel.Fake {
		// the injected fake package is reprocessed unconditionally.
		return true
	}

	owner, found, _ := e.Store.OwnerOfGCID(asgen.GCID(gcid))
	samePkg := found && owner == pkid
	if !samePkg && cpt.Kind != compose.KindWebApp {
		ownerName := "(none)"
		if found {
			if n, _, _, perr := owner.Parse(); perr == nil {
				ownerName = n
			}
		}
		res.AddHint(cpt.ID, "metainfo-duplicate-id", map[string]any{"cid": cpt.ID, "pkgname": ownerName})
	}

	// drop the component but keep its gcid registered against pkid.
	res.RegisterKnownGcid(asgen.GCID(gcid))
	return false
}

// resolveIcons runs the icon handler over cpt's first declared icon
// reference (the compose engine collapses alternate icon entries for the
// same logical icon into one stock name before this runs), replacing
// cpt.Icons with the resolved cached/remote references. It returns false
// when a fatal hint removed the component, signaling the caller to stop
// processing it further.
func (e *Extractor) resolveIcons(ctx context.Context, candidatePkid asgen.Pkid, pkgName string, isFake bool, gcid asgen.GCID, res *result.Result, cpt *compose.Component) bool {
	iconName := cpt.Icons[0].Name
	sizes, hints, err := e.Icons.ResolveAllSizes(ctx, candidatePkid, pkgName, isFake, gcid, iconName, e.IconPolicy, e.UpscaleIcons)
	if err != nil {
		res.AddHintMessage(cpt.ID, "internal-error", err.Error())
		return true
	}
	for _, h := range hints {
		if !res.AddHint(cpt.ID, h.Tag, h.Vars) {
			return false
		}
	}
	if res.IsIgnored(cpt.ID) {
		return false
	}

	cpt.Icons = cpt.Icons[:0]
	for _, size := range orderedSizes(sizes) {
		stored := sizes[size]
		if stored.RelativeName != "" {
			cpt.Icons = append(cpt.Icons, compose.Icon{Kind: "cached", Name: stored.RelativeName})
		}
		if stored.RemoteURL != "" {
			cpt.Icons = append(cpt.Icons, compose.Icon{Kind: "remote", Name: stored.RemoteURL})
		}
	}
	return true
}

// backfillDescription implements spec §4.8's "inject package
// descriptions, if needed" step: components eligible for a long
// description that metainfo didn't supply one for get the package's
// description instead, or a description-missing hint when the package
// doesn't have one either.
func (e *Extractor) backfillDescription(pkg pkgmodel.Package, res *result.Result, cpt *compose.Component) {
	if !descriptionEligibleKinds[cpt.Kind] {
		return
	}
	if cpt.Description["C"] != "" {
		return
	}

	descMap := pkg.DescriptionMap()
	if len(descMap) > 0 {
		if cpt.Description == nil {
			cpt.Description = map[string]string{}
		}
		for lang, desc := range descMap {
			cpt.Description[lang] = desc
		}
		if !res.HasHint(cpt.ID, "no-metainfo") {
			res.AddHint(cpt.ID, "description-from-package", nil)
		}
		return
	}
	res.AddHint(cpt.ID, "description-missing", map[string]any{"kind": string(cpt.Kind)})
}

func (e *Extractor) synthesizeCodecComponent(pkg pkgmodel.Package, pkgName string, res *result.Result) {
	cpt := &compose.Component{
		ID:      pkgName,
		Kind:    compose.KindCodec,
		Name:    map[string]string{"C": "GStreamer Multimedia Codecs"},
		Summary: map[string]string{},
	}
	var digest strings.Builder
	for lang, summary := range pkg.SummaryMap() {
		cpt.Summary[lang] = summary
		digest.WriteString(summary)
	}
	res.AddComponentWithString(cpt, digest.String())
}

func codecNotEmpty(c *pkgmodel.Codec) bool {
	return len(c.GStreamerElements) > 0 || len(c.GStreamerURIsinks) > 0 || len(c.GStreamerURIsrcs) > 0 ||
		len(c.GStreamerEncoders) > 0 || len(c.GStreamerDecoders) > 0 || len(c.GStreamerMimetypes) > 0
}

// orderedSizes returns sizes' keys sorted largest-first, matching
// icon.PolicyConfig.sizesDescendingBySize's ordering so a component's
// serialized icon list is deterministic across runs.
func orderedSizes(sizes map[icon.Size]icon.Stored) []icon.Size {
	out := make([]icon.Size, 0, len(sizes))
	for s := range sizes {
		out = append(out, s)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Width*out[j].Height > out[j-1].Width*out[j-1].Height; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
