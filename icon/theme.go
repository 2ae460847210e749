// Package icon implements the icon handler (spec §4.7, C7): XDG
// icon-theme lookup, a fixed search order across themes, the candidate
// package and global content index, sizing-policy resolution, and
// raster/vector rendering into a component's media pool.
//
// Grounded on spec.md §4.7's prose description of the XDG Icon Theme
// Specification subset asgen needs; no original_source module for this
// layer is present in the filtered tree (icon handling there is folded
// into the larger compose library asgen treats as an external
// dependency, see extract/compose), so the theme/search model below is a
// direct implementation of the spec text and the public XDG spec it
// cites, following the project's existing small-struct, parse-into-
// slice style (e.g. backend/alpine's APKINDEX block parser).
package icon

import (
	"bufio"
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DirType is an icon theme directory's scaling behavior.
type DirType int

const (
	Fixed DirType = iota
	Scalable
	Threshold
)

// ThemeDir is one directory record parsed out of an index.theme file.
type ThemeDir struct {
	Path      string
	Type      DirType
	Size      int
	MinSize   int
	MaxSize   int
	Threshold int
	Scale     int
}

// Matches reports whether this directory is a valid source for an icon
// requested at (size, scale), per the XDG Icon Theme Specification's
// directory matching rules, with one relaxation: a Threshold directory
// whose Size is already >= the requested size is accepted even though
// the XDG rule would reject it, so a higher-resolution theme entry can
// be downscaled instead of falling through to a smaller one.
func (d ThemeDir) Matches(size, scale int) bool {
	if d.Scale != scale {
		return false
	}
	switch d.Type {
	case Fixed:
		return d.Size == size
	case Scalable:
		return d.MinSize <= size && size <= d.MaxSize
	case Threshold:
		if d.Size >= size {
			return true
		}
		return d.Size-d.Threshold <= size && size <= d.Size+d.Threshold
	default:
		return false
	}
}

// Theme is a parsed icon theme: its name and directory records, sorted
// ascending by Size so search prefers the smallest adequate source.
type Theme struct {
	Name string
	Dirs []ThemeDir
}

// iniSection is one [Section Name] block of an INI-style file as a flat
// key/value map; index.theme has no nested structure deeper than this.
type iniSection struct {
	name   string
	values map[string]string
}

// parseINI splits raw into ordered sections. There is no INI-parsing
// library in the example pack (index.theme predates virtually every
// general-purpose config format asgen's dependencies cover), so this is
// a minimal hand-rolled reader scoped to exactly the subset index.theme
// files use: "[Section]" headers and "key=value" lines, "#"/";" comments
// and blank lines ignored.
func parseINI(raw []byte) []iniSection {
	var sections []iniSection
	var cur *iniSection
	sc := bufio.NewScanner(strings.NewReader(string(raw)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			sections = append(sections, iniSection{name: line[1 : len(line)-1], values: map[string]string{}})
			cur = &sections[len(sections)-1]
			continue
		}
		if cur == nil {
			continue
		}
		if eq := strings.IndexByte(line, '='); eq >= 0 {
			key := strings.TrimSpace(line[:eq])
			val := strings.TrimSpace(line[eq+1:])
			cur.values[key] = val
		}
	}
	return sections
}

// ParseKeyFile parses any INI-style keyfile sharing index.theme's format
// (desktop entries use the same subset) into an ordered list of sections,
// each a flat key/value map. Exported so extract/compose's desktop-entry
// reader can reuse this parser instead of duplicating it.
func ParseKeyFile(raw []byte) []Section {
	sections := parseINI(raw)
	out := make([]Section, len(sections))
	for i, s := range sections {
		out[i] = Section{Name: s.name, Values: s.values}
	}
	return out
}

// Section is one named block of an INI-style keyfile.
type Section struct {
	Name   string
	Values map[string]string
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// ParseTheme parses the contents of an index.theme file. Sections whose
// name starts with "symbolic/" are ignored per spec §4.7.
func ParseTheme(name string, raw []byte) (*Theme, error) {
	sections := parseINI(raw)
	t := &Theme{Name: name}
	for _, sec := range sections {
		if sec.name == "Icon Theme" || strings.HasPrefix(sec.name, "symbolic/") {
			continue
		}
		sizeStr, ok := sec.values["Size"]
		if !ok {
			continue
		}
		size := atoiOr(sizeStr, 0)
		if size == 0 {
			continue
		}
		d := ThemeDir{
			Path:      sec.name,
			Size:      size,
			MinSize:   atoiOr(sec.values["MinSize"], size),
			MaxSize:   atoiOr(sec.values["MaxSize"], size),
			Threshold: atoiOr(sec.values["Threshold"], 2),
			Scale:     atoiOr(sec.values["Scale"], 1),
		}
		switch sec.values["Type"] {
		case "Scalable":
			d.Type = Scalable
		case "Threshold":
			d.Type = Threshold
		default:
			d.Type = Fixed
		}
		t.Dirs = append(t.Dirs, d)
	}
	sort.SliceStable(t.Dirs, func(i, j int) bool { return t.Dirs[i].Size < t.Dirs[j].Size })
	if len(t.Dirs) == 0 {
		return nil, fmt.Errorf("icon: theme %q has no usable directory records", name)
	}
	return t, nil
}

//go:embed bundled/hicolor-index.theme
var bundledFS embed.FS

// BundledHicolorTheme returns the fallback hicolor theme used when no
// packaged hicolor theme was found among the candidate packages, so
// size/scale matching still has somewhere to anchor.
func BundledHicolorTheme() (*Theme, error) {
	raw, err := bundledFS.ReadFile("bundled/hicolor-index.theme")
	if err != nil {
		return nil, fmt.Errorf("icon: read bundled hicolor theme: %w", err)
	}
	return ParseTheme("hicolor", raw)
}
