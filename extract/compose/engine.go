package compose

import (
	"context"
	"encoding/xml"
	"fmt"
	"path"
	"strings"

	"github.com/asgen/asgen/icon"
)

// DefaultEngine is compose.Engine's from-scratch Go implementation (see
// compose.go's package doc for why this layer is hand-rolled rather than
// wired to a pack library). It discovers desktop entries and AppStream
// metainfo XML documents in a Unit's file list and turns each into a
// Component, mirroring original_source/src/extractor.cpp's "run compose
// over the package's files" step at the level of detail spec §4.8
// actually specifies.
type DefaultEngine struct {
	flags    Flags
	xlateFn  DesktopTranslationFunc
	checkFn  func(gcid string, cpt *Component) bool
}

var _ Engine = (*DefaultEngine)(nil)

// NewDefaultEngine constructs a DefaultEngine with zero-value flags; call
// SetFlags before Run.
func NewDefaultEngine() *DefaultEngine { return &DefaultEngine{} }

func (e *DefaultEngine) Reset() {
	e.xlateFn = nil
	e.checkFn = nil
}

func (e *DefaultEngine) SetFlags(f Flags) { e.flags = f }

func (e *DefaultEngine) SetDesktopTranslationCallback(fn DesktopTranslationFunc) { e.xlateFn = fn }

func (e *DefaultEngine) SetIntermediateCheck(fn func(gcid string, cpt *Component) bool) {
	e.checkFn = fn
}

func isDesktopEntry(p string) bool {
	return strings.HasPrefix(p, "/usr/share/applications/") && strings.HasSuffix(p, ".desktop")
}

func isMetainfo(p string) bool {
	if !strings.HasPrefix(p, "/usr/share/metainfo/") {
		return false
	}
	return strings.HasSuffix(p, ".metainfo.xml") || strings.HasSuffix(p, ".appdata.xml")
}

// Run implements Engine.
func (e *DefaultEngine) Run(ctx context.Context, unit Unit) (*Result, error) {
	paths, err := unit.ListFiles()
	if err != nil {
		return nil, fmt.Errorf("compose: list files for %s: %w", unit.ID, err)
	}

	res := &Result{}
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var cpt *Component
		switch {
		case e.flags.DesktopEntries && isDesktopEntry(p):
			cpt, err = e.parseDesktopEntry(unit, p)
		case isMetainfo(p):
			cpt, err = e.parseMetainfo(unit, p)
		default:
			continue
		}
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", p, err))
			continue
		}
		if cpt == nil {
			continue
		}

		gcid := Gcid(cpt.ID, unit.ID)
		cpt.Gcid = gcid
		if e.checkFn != nil && !e.checkFn(gcid, cpt) {
			continue
		}
		res.Components = append(res.Components, cpt)
	}
	return res, nil
}

func (e *DefaultEngine) parseDesktopEntry(unit Unit, p string) (*Component, error) {
	raw, err := unit.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read desktop entry: %w", err)
	}
	sections := icon.ParseKeyFile(raw)
	var values map[string]string
	for _, s := range sections {
		if s.Name == "Desktop Entry" {
			values = s.Values
			break
		}
	}
	if values == nil {
		return nil, fmt.Errorf("no [Desktop Entry] group")
	}
	if values["NoDisplay"] == "true" || values["Type"] == "" {
		return nil, nil
	}
	if values["Type"] != "Application" {
		return nil, nil
	}

	base := path.Base(p)
	id := strings.TrimSuffix(base, ".desktop") + ".desktop"
	kind := KindDesktopApp
	if values["Terminal"] == "true" {
		kind = KindConsoleApp
	}

	cpt := &Component{
		ID:            id,
		Kind:          kind,
		Name:          map[string]string{"C": values["Name"]},
		Summary:       map[string]string{"C": values["Comment"]},
		Description:   map[string]string{},
		Custom:        map[string]string{},
		DesktopFileID: p,
	}
	if icn := values["Icon"]; icn != "" {
		cpt.Icons = append(cpt.Icons, Icon{Kind: "stock", Name: icn})
	}
	if e.flags.Locale && e.xlateFn != nil {
		translated, err := e.xlateFn(keyFileStore(values), values["Name"])
		if err == nil {
			for locale, name := range translated {
				cpt.Name[locale] = name
			}
		}
	}
	return cpt, nil
}

// keyFileStore adapts a flat desktop-entry group to
// pkgmodel.DesktopKeyValueStore without a direct import cycle; it only
// ever answers lookups against the default "Desktop Entry" group.
type keyFileStore map[string]string

func (k keyFileStore) Value(group, key string) (string, bool) {
	if group != "Desktop Entry" {
		return "", false
	}
	v, ok := k[key]
	return v, ok
}

// metainfoXML is the minimal AppStream metainfo document shape this
// engine understands — spec §4.8 only requires component id, kind,
// name/summary/description, icon references, and pkgname list to flow
// through to later stages.
type metainfoXML struct {
	XMLName     xml.Name       `xml:"component"`
	Type        string         `xml:"type,attr"`
	ID          string         `xml:"id"`
	Name        []localizedXML `xml:"name"`
	Summary     []localizedXML `xml:"summary"`
	Description []localizedXML `xml:"description"`
	Icons       []iconXML      `xml:"icon"`
	Pkgname     []string       `xml:"pkgname"`
	Custom      customXML      `xml:"custom"`
}

type localizedXML struct {
	Lang  string `xml:"lang,attr"`
	Value string `xml:",chardata"`
}

type iconXML struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type customXML struct {
	Values []customValueXML `xml:"value"`
}

type customValueXML struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

func localeMap(entries []localizedXML) map[string]string {
	out := map[string]string{}
	for _, e := range entries {
		lang := e.Lang
		if lang == "" {
			lang = "C"
		}
		out[lang] = strings.TrimSpace(e.Value)
	}
	return out
}

func (e *DefaultEngine) parseMetainfo(unit Unit, p string) (*Component, error) {
	raw, err := unit.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read metainfo: %w", err)
	}
	var doc metainfoXML
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse metainfo xml: %w", err)
	}
	if doc.ID == "" {
		return nil, fmt.Errorf("metainfo document has no <id>")
	}

	kind := KindGeneric
	switch doc.Type {
	case "desktop-application", "desktop":
		kind = KindDesktopApp
	case "console-application":
		kind = KindConsoleApp
	case "web-application":
		kind = KindWebApp
	case "font":
		kind = KindFont
	case "operating-system":
		kind = KindOS
	case "repository":
		kind = KindRepository
	}

	cpt := &Component{
		ID:          doc.ID,
		Kind:        kind,
		Name:        localeMap(doc.Name),
		Summary:     localeMap(doc.Summary),
		Description: localeMap(doc.Description),
		PkgNames:    append([]string(nil), doc.Pkgname...),
		Custom:      map[string]string{},
	}
	for _, icn := range doc.Icons {
		cpt.Icons = append(cpt.Icons, Icon{Kind: icn.Type, Name: strings.TrimSpace(icn.Value)})
	}
	if e.flags.CustomKeys {
		for _, v := range doc.Custom.Values {
			cpt.Custom[v.Key] = v.Value
		}
	}
	return cpt, nil
}

// Finalize implements Engine's closing pass: drop components with no id
// when Validate is set (the real compose library runs full RelaxNG/schema
// validation here; this module only enforces the one invariant spec §8
// actually tests for: a component always has a non-empty id).
func (e *DefaultEngine) Finalize(ctx context.Context, res *Result) error {
	if !e.flags.Validate {
		return nil
	}
	kept := res.Components[:0]
	for _, cpt := range res.Components {
		if !cpt.Valid() {
			res.Warnings = append(res.Warnings, "dropped component with empty id during validation")
			continue
		}
		kept = append(kept, cpt)
	}
	res.Components = kept
	return nil
}
