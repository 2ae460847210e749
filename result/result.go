// Package result implements the generator result object (spec §4.9, C9):
// the per-package accumulator that collects the components a compose.Run
// produced, lets the extractor attach hints against either a specific
// component or the package as a whole, and serializes the surviving
// components into the fragment bytes the data store persists.
//
// Grounded on original_source/src/result.h's GeneratorResult class (a
// different concept from store/data.GeneratorResult despite the shared
// name: the C++ type wraps a live AscResult plus the owning package,
// while store/data's is the store's already-serialized view). This
// package sits between compose.Result and store/data.GeneratorResult,
// and is the only place permitted to import both, keeping store/data
// import-cycle-free of extract/result per DESIGN.md's layering note.
package result

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/asgen/asgen"
	"github.com/asgen/asgen/extract/compose"
	"github.com/asgen/asgen/internal/hints"
	"github.com/asgen/asgen/store/data"
)

// Result accumulates one package's worth of components and hints.
// Grounded on original_source/src/result.h's GeneratorResult, whose
// addHint/addComponent/hintsToJson/gcidForComponent/hasHint operations
// spec §4.9 lists verbatim; methods below use Go-idiomatic capitalized
// names for the same contract.
type Result struct {
	mu sync.Mutex

	pkid asgen.Pkid

	components map[string]*compose.Component
	gcids      map[string]asgen.GCID
	order      []string // insertion order, for deterministic serialization

	// knownGcids holds gcids the package is linked to without owning a
	// full component, for the "already generated elsewhere, keep the
	// id registered but don't reprocess" case spec §4.8 step 3
	// describes: the component is dropped from this run's result, but
	// the package must still be recorded against its gcid.
	knownGcids []asgen.GCID

	hints map[string][]asgen.Hint // keyed by component id, or asgen.GeneralComponentID
}

// New returns an empty Result for the package identified by pkid.
func New(pkid asgen.Pkid) *Result {
	return &Result{
		pkid:       pkid,
		components: map[string]*compose.Component{},
		gcids:      map[string]asgen.GCID{},
		hints:      map[string][]asgen.Hint{},
	}
}

// RegisterKnownGcid links pkid to a gcid whose metadata already exists
// from a previous run, without adding a component for it — spec §4.8
// step 3's "drop the component, but keep its global id" behavior.
func (r *Result) RegisterKnownGcid(gcid asgen.GCID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.knownGcids = append(r.knownGcids, gcid)
}

// AddComponent registers cpt and mints its gcid from the package id,
// mirroring result.h's addComponent. Re-adding the same component id
// overwrites the previous entry without duplicating its order slot.
func (r *Result) AddComponent(cpt *compose.Component) asgen.GCID {
	return r.addComponent(cpt, string(r.pkid))
}

// AddComponentWithString registers cpt with its gcid minted from an
// explicit digest input rather than the package id — spec §4.9's
// addComponentWithString, used by the GStreamer codec-synthesis step
// (C8) where several synthetic components share one package but must
// not collide on gcid.
func (r *Result) AddComponentWithString(cpt *compose.Component, digestInput string) asgen.GCID {
	return r.addComponent(cpt, digestInput)
}

func (r *Result) addComponent(cpt *compose.Component, digestInput string) asgen.GCID {
	gcid := asgen.GCID(compose.Gcid(cpt.ID, digestInput))
	cpt.Gcid = string(gcid)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.components[cpt.ID]; !exists {
		r.order = append(r.order, cpt.ID)
	}
	r.components[cpt.ID] = cpt
	r.gcids[cpt.ID] = gcid
	return gcid
}

// RemoveComponent drops a component without recording a hint against it
// (result.h's removeComponent — used, for example, when a later step
// decides a component duplicates one already kept).
func (r *Result) RemoveComponent(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.components, id)
	delete(r.gcids, id)
}

// IsIgnored reports whether id names no component currently kept in this
// result (result.h's isIgnored).
func (r *Result) IsIgnored(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.components[id]
	return !ok
}

// AddHint attaches tag against componentID (or asgen.GeneralComponentID
// when componentID is empty), along with any structured vars, and
// reports whether the component survives the hint — spec §4.9's addHint
// contract. A hint whose tag is registered at Error severity
// (internal/hints.IsFatal) removes the component from the result, the
// same effect result.h describes as "the compose library marks the
// component invalid".
func (r *Result) AddHint(componentID, tag string, vars map[string]any) bool {
	id := componentID
	if id == "" {
		id = asgen.GeneralComponentID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.hints[id] = append(r.hints[id], asgen.Hint{ComponentID: id, Tag: tag, Vars: vars})
	if !hints.IsFatal(tag) {
		return true
	}
	delete(r.components, id)
	delete(r.gcids, id)
	return false
}

// AddHintMessage is AddHint for the common case of a single free-text
// message rather than structured vars.
func (r *Result) AddHintMessage(componentID, tag, message string) bool {
	return r.AddHint(componentID, tag, map[string]any{"msg": message})
}

// HasHint reports whether componentID already carries a hint tagged tag.
func (r *Result) HasHint(componentID, tag string) bool {
	id := componentID
	if id == "" {
		id = asgen.GeneralComponentID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.hints[id] {
		if h.Tag == tag {
			return true
		}
	}
	return false
}

// GcidForComponent returns the gcid minted for a currently-kept
// component, if any.
func (r *Result) GcidForComponent(componentID string) (asgen.GCID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gcids[componentID]
	return g, ok
}

// ComponentGcids returns the gcids of every component currently kept
// plus every gcid registered via RegisterKnownGcid, in the order
// components were added followed by registration order.
func (r *Result) ComponentGcids() []asgen.GCID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]asgen.GCID, 0, len(r.order)+len(r.knownGcids))
	for _, id := range r.order {
		if g, ok := r.gcids[id]; ok {
			out = append(out, g)
		}
	}
	out = append(out, r.knownGcids...)
	return out
}

// ComponentsCount returns the number of components currently kept.
func (r *Result) ComponentsCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.components)
}

// HintsCount returns the total number of hints raised, across every
// component id including the general pseudo-id, regardless of whether
// the hint was fatal.
func (r *Result) HintsCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, hs := range r.hints {
		n += len(hs)
	}
	return n
}

// AllHints flattens every raised hint in deterministic (component id,
// insertion) order, for handoff to store/data.GeneratorResult.
func (r *Result) AllHints() []asgen.Hint {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.hints))
	for id := range r.hints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []asgen.Hint
	for _, id := range ids {
		out = append(out, r.hints[id]...)
	}
	return out
}

// Components returns every currently-kept component, in insertion order.
func (r *Result) Components() []*compose.Component {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*compose.Component, 0, len(r.order))
	for _, id := range r.order {
		if cpt, ok := r.components[id]; ok {
			out = append(out, cpt)
		}
	}
	return out
}

// componentXML and its nested types mirror extract/compose's read-side
// metainfoXML but in the write direction: the serialized fragment shape
// this module's output format persists into store/data's metadata_xml
// sub-db.
type componentXML struct {
	XMLName     xml.Name         `xml:"component"`
	Type        compose.Kind     `xml:"type,attr"`
	ID          string           `xml:"id"`
	Name        []localizedXML   `xml:"name"`
	Summary     []localizedXML   `xml:"summary"`
	Description []localizedXML   `xml:"description,omitempty"`
	Icons       []iconXMLOut     `xml:"icon,omitempty"`
	Pkgname     []string         `xml:"pkgname,omitempty"`
	Custom      []customValueXML `xml:"custom>value,omitempty"`
}

type localizedXML struct {
	Lang  string `xml:"lang,attr,omitempty"`
	Value string `xml:",chardata"`
}

type iconXMLOut struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type customValueXML struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

func toLocalized(m map[string]string) []localizedXML {
	langs := make([]string, 0, len(m))
	for l := range m {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	out := make([]localizedXML, 0, len(langs))
	for _, l := range langs {
		lang := l
		if lang == "C" {
			lang = ""
		}
		out = append(out, localizedXML{Lang: lang, Value: m[l]})
	}
	return out
}

// marshalXML renders cpt as a standalone AppStream <component> fragment.
func marshalXML(cpt *compose.Component) ([]byte, error) {
	doc := componentXML{
		Type:        cpt.Kind,
		ID:          cpt.ID,
		Name:        toLocalized(cpt.Name),
		Summary:     toLocalized(cpt.Summary),
		Description: toLocalized(cpt.Description),
		Pkgname:     cpt.PkgNames,
	}
	for _, icn := range cpt.Icons {
		doc.Icons = append(doc.Icons, iconXMLOut{Type: icn.Kind, Value: icn.Name})
	}
	keys := make([]string, 0, len(cpt.Custom))
	for k := range cpt.Custom {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		doc.Custom = append(doc.Custom, customValueXML{Key: k, Value: cpt.Custom[k]})
	}

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("result: marshal component %q as xml: %w", cpt.ID, err)
	}
	return buf.Bytes(), nil
}

// componentYAML mirrors the AppStream DEP-11 YAML collection entry shape
// (one document per component), built with gopkg.in/yaml.v3 the same way
// store/data's metadata_yaml sub-db and Suites config fallback do.
type componentYAML struct {
	ID          string            `yaml:"ID"`
	Type        compose.Kind      `yaml:"Type"`
	Name        map[string]string `yaml:"Name"`
	Summary     map[string]string `yaml:"Summary"`
	Description map[string]string `yaml:"Description,omitempty"`
	Icons       []iconYAML        `yaml:"Icon,omitempty"`
	PkgNames    []string          `yaml:"Package,omitempty"`
	Custom      map[string]string `yaml:"X-CustomValues,omitempty"`
}

type iconYAML struct {
	Kind string `yaml:"kind"`
	Name string `yaml:"name"`
}

func marshalYAML(cpt *compose.Component) ([]byte, error) {
	doc := componentYAML{
		ID:          cpt.ID,
		Type:        cpt.Kind,
		Name:        cpt.Name,
		Summary:     cpt.Summary,
		Description: cpt.Description,
		PkgNames:    cpt.PkgNames,
		Custom:      cpt.Custom,
	}
	for _, icn := range cpt.Icons {
		doc.Icons = append(doc.Icons, iconYAML{Kind: icn.Kind, Name: icn.Name})
	}
	b, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("result: marshal component %q as yaml: %w", cpt.ID, err)
	}
	return b, nil
}

// ToGeneratorResult serializes every surviving component in format and
// packages them with the accumulated hints into the shape store/data
// expects, per this repo's layering decision that only this package (not
// store/data) imports both sides. Gcids registered via RegisterKnownGcid
// are included with no data of their own: store/data.AddGeneratorResult
// skips rewriting metadata that already exists, but still needs the
// gcid present to link the package to it.
func (r *Result) ToGeneratorResult(format data.MetadataFormat) (data.GeneratorResult, error) {
	marshal := marshalXML
	if format == data.MetadataYAML {
		marshal = marshalYAML
	}

	var out data.GeneratorResult
	for _, cpt := range r.Components() {
		b, err := marshal(cpt)
		if err != nil {
			return data.GeneratorResult{}, err
		}
		gcid, _ := r.GcidForComponent(cpt.ID)
		out.Components = append(out.Components, data.ComponentMetadata{GCID: gcid, Data: b})
	}
	r.mu.Lock()
	known := append([]asgen.GCID(nil), r.knownGcids...)
	r.mu.Unlock()
	for _, g := range known {
		out.Components = append(out.Components, data.ComponentMetadata{GCID: g})
	}
	out.Hints = r.AllHints()
	return out, nil
}
