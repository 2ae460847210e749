// Package config loads and validates asgen's JSON configuration file
// (spec §6), turning it into the typed dependencies the rest of the
// module's components expect: a suite list, an icon size policy, a
// compose feature-flag set, and resolved workspace/export paths.
//
// Grounded on libindex/opts.go's "Opts are dependencies and options for
// constructing an instance of X" shape and its Parse() error defaulting
// method; Config.Parse plays the same role here, just sourced from a
// JSON file instead of being assembled by the caller in Go.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/asgen/asgen"
	"github.com/asgen/asgen/backend"
	"github.com/asgen/asgen/extract/compose"
	"github.com/asgen/asgen/icon"
	"github.com/asgen/asgen/internal/asgenerr"
	"github.com/asgen/asgen/store/data"
)

const (
	// DefaultConfigFileName is the config file's default basename under
	// the workspace directory, per spec §6.
	DefaultConfigFileName = "asgen-config.json"

	DefaultFormatVersion = "1.0"
)

// SuiteConfig is one entry of the config file's "Suites" object.
type SuiteConfig struct {
	DataPriority  int      `json:"dataPriority"`
	BaseSuite     string   `json:"baseSuite,omitempty"`
	UseIconTheme  string   `json:"useIconTheme,omitempty"`
	Sections      []string `json:"sections"`
	Architectures []string `json:"architectures"`
	Immutable     bool     `json:"immutable,omitempty"`
}

// IconSizeConfig is one entry of the config file's "Icons" object, keyed
// by a "WxH" or "WxH@scale" string.
type IconSizeConfig struct {
	Remote bool `json:"remote"`
	Cached bool `json:"cached"`
}

// ExportDirsConfig overrides per-kind export subdirectories, relative to
// the workspace unless absolute.
type ExportDirsConfig struct {
	Media string `json:"Media,omitempty"`
	Data  string `json:"Data,omitempty"`
	Hints string `json:"Hints,omitempty"`
	Html  string `json:"Html,omitempty"`
}

// Config is the decoded shape of asgen-config.json, per spec §6's key
// table.
type Config struct {
	ProjectName  string `json:"ProjectName"`
	ArchiveRoot  string `json:"ArchiveRoot"`
	WorkspaceDir string `json:"WorkspaceDir,omitempty"`

	MediaBaseUrl string `json:"MediaBaseUrl,omitempty"`
	HtmlBaseUrl  string `json:"HtmlBaseUrl,omitempty"`

	ExportDirs ExportDirsConfig `json:"ExportDirs,omitempty"`

	ExtraMetainfoDir string `json:"ExtraMetainfoDir,omitempty"`
	CAInfo           string `json:"CAInfo,omitempty"`
	FormatVersion    string `json:"FormatVersion,omitempty"`

	Backend      string `json:"Backend"`
	MetadataType string `json:"MetadataType,omitempty"`

	Suites    map[string]SuiteConfig    `json:"Suites"`
	Oldsuites []string                  `json:"Oldsuites,omitempty"`
	Icons     map[string]IconSizeConfig `json:"Icons,omitempty"`

	MaxScreenshotFileSize int64           `json:"MaxScreenshotFileSize,omitempty"` // MiB; 0 disables
	AllowedCustomKeys     []string        `json:"AllowedCustomKeys,omitempty"`
	Features              map[string]bool `json:"Features,omitempty"`

	// configDir is the directory the config file was loaded from, used
	// to resolve WorkspaceDir when it's left unset. Not serialized.
	configDir string `json:"-"`
}

var knownBackends = map[string]backend.Kind{
	"dummy":       backend.KindDummy,
	"debian":      backend.KindDebian,
	"ubuntu":      backend.KindUbuntu,
	"arch":        backend.KindArch,
	"rpmmd":       backend.KindRpmMd,
	"alpinelinux": backend.KindAlpine,
	"freebsd":     backend.KindFreeBSD,
	"nix":         backend.KindNix,
}

var sizeKeyPattern = regexp.MustCompile(`^(\d+)x(\d+)(?:@(\d+))?$`)

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, asgenerr.New("config.Load", asgenerr.KindConfig, "read config file", err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, asgenerr.New("config.Load", asgenerr.KindConfig, "parse config file", err)
	}
	cfg.configDir = filepath.Dir(path)
	if err := cfg.Parse(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse validates required keys and fills in defaults, mirroring
// libindex.Opts.Parse's "required, then optional" shape. Called
// automatically by Load; exported so callers that build a Config by
// hand (tests, embedders) can apply the same rules.
func (c *Config) Parse() error {
	if c.ProjectName == "" {
		return asgenerr.New("Config.Parse", asgenerr.KindConfig, "ProjectName is required", nil)
	}
	if c.ArchiveRoot == "" {
		return asgenerr.New("Config.Parse", asgenerr.KindConfig, "ArchiveRoot is required", nil)
	}
	if len(c.Suites) == 0 {
		return asgenerr.New("Config.Parse", asgenerr.KindConfig, "at least one suite is required", nil)
	}

	if c.Backend == "" {
		c.Backend = "dummy"
	}
	if _, ok := knownBackends[c.Backend]; !ok {
		return asgenerr.New("Config.Parse", asgenerr.KindConfig, fmt.Sprintf("unknown Backend %q", c.Backend), nil)
	}

	if c.WorkspaceDir == "" {
		c.WorkspaceDir = c.configDir
	}
	if !filepath.IsAbs(c.WorkspaceDir) {
		c.WorkspaceDir = filepath.Join(c.configDir, c.WorkspaceDir)
	}

	if c.FormatVersion == "" {
		c.FormatVersion = DefaultFormatVersion
	}
	if c.FormatVersion != "1.0" {
		return asgenerr.New("Config.Parse", asgenerr.KindConfig, fmt.Sprintf("unrecognized FormatVersion %q", c.FormatVersion), nil)
	}

	switch c.MetadataType {
	case "", "xml":
		c.MetadataType = "xml"
	case "yaml":
	default:
		return asgenerr.New("Config.Parse", asgenerr.KindConfig, fmt.Sprintf("unrecognized MetadataType %q", c.MetadataType), nil)
	}

	for key := range c.Icons {
		if !sizeKeyPattern.MatchString(key) {
			return asgenerr.New("Config.Parse", asgenerr.KindConfig, fmt.Sprintf("invalid icon size key %q", key), nil)
		}
	}

	if c.MaxScreenshotFileSize < 0 {
		return asgenerr.New("Config.Parse", asgenerr.KindConfig, "MaxScreenshotFileSize must not be negative", nil)
	}

	if policy, err := c.IconPolicy(); err != nil {
		return err
	} else if err := policy.Validate(); err != nil {
		return asgenerr.New("Config.Parse", asgenerr.KindConfig, "icon policy", err)
	}

	return nil
}

// BackendKind returns the validated backend.Kind this config selects.
func (c *Config) BackendKind() backend.Kind {
	return knownBackends[c.Backend]
}

// Format returns the configured metadata serialization format.
func (c *Config) Format() data.MetadataFormat {
	if c.MetadataType == "yaml" {
		return data.MetadataYAML
	}
	return data.MetadataXML
}

// Suites converts the config's Suites map into the sorted slice the
// engine consumes, ordered by descending dataPriority so that, per
// SPEC_FULL.md's supplemented "dataPriority suite ordering" feature, a
// higher-priority suite's components win when the same gcid is
// reachable from more than one suite. Ties break on name for
// determinism.
func (c *Config) Suites() []*asgen.Suite {
	out := make([]*asgen.Suite, 0, len(c.Suites))
	for name, sc := range c.Suites {
		extraDir := ""
		if c.ExtraMetainfoDir != "" {
			extraDir = filepath.Join(c.ExtraMetainfoDir, name)
		}
		out = append(out, &asgen.Suite{
			Name:             name,
			DataPriority:     sc.DataPriority,
			BaseSuite:        sc.BaseSuite,
			UseIconTheme:     sc.UseIconTheme,
			Sections:         sc.Sections,
			Architectures:    sc.Architectures,
			Immutable:        sc.Immutable,
			ExtraMetainfoDir: extraDir,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DataPriority != out[j].DataPriority {
			return out[i].DataPriority > out[j].DataPriority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// IconPolicy converts the config's Icons map into icon.PolicyConfig,
// parsing each "WxH[@scale]" key into an icon.Size.
func (c *Config) IconPolicy() (icon.PolicyConfig, error) {
	out := icon.PolicyConfig{}
	for key, sc := range c.Icons {
		m := sizeKeyPattern.FindStringSubmatch(key)
		if m == nil {
			return nil, asgenerr.New("Config.IconPolicy", asgenerr.KindConfig, fmt.Sprintf("invalid icon size key %q", key), nil)
		}
		width, _ := strconv.Atoi(m[1])
		height, _ := strconv.Atoi(m[2])
		scale := 1
		if m[3] != "" {
			scale, _ = strconv.Atoi(m[3])
		}
		size := icon.Size{Width: width, Height: height, Scale: scale}

		var policy icon.Policy
		switch {
		case sc.Cached && sc.Remote:
			policy = icon.CachedAndRemote
		case sc.Cached:
			policy = icon.CachedOnly
		case sc.Remote:
			policy = icon.RemoteOnly
		default:
			policy = icon.Ignored
		}
		out[size] = policy
	}
	return out, nil
}

// ComposeFlags builds the compose engine's feature-flag set from the
// config's Features toggles (spec §4.8) and MaxScreenshotFileSize.
// Feature names match spec §4.8's step list; an unrecognized Features
// key is ignored rather than rejected, since Features is documented as
// an open-ended toggle set future compose steps may extend.
func (c *Config) ComposeFlags() compose.Flags {
	return compose.Flags{
		Validate:              c.Features["validate"],
		DesktopEntries:        c.Features["desktopEntries"],
		Locale:                c.Features["locale"],
		Font:                  c.Features["font"],
		GStreamer:             c.Features["gstreamer"],
		Screenshots:           c.Features["screenshots"],
		ScreenshotVideos:      c.Features["screenshotVideos"],
		MetainfoArtifacts:     c.Features["metainfoArtifacts"],
		CustomKeys:            c.Features["customKeys"],
		MaxScreenshotFileSize: c.MaxScreenshotFileSize * 1024 * 1024,
	}
}

// FeatureEnabled reports a single Features toggle, defaulting to false
// when absent. Exposed for callers (cmd/asgen) that gate a whole
// subsystem — e.g. the optipng/ffprobe probe described in spec §6 — on
// one flag rather than building a full compose.Flags.
func (c *Config) FeatureEnabled(name string) bool {
	return c.Features[name]
}

// WorkspacePaths is the persistent layout spec §6 names, resolved
// against one Config.
type WorkspacePaths struct {
	DataDB       string
	ContentsDB   string
	CacheTmp     string
	MediaExport  string
	DataExport   string
	HTMLExport   string
}

// Paths resolves the config's workspace and export directories into
// the concrete paths the engine and report generator need, applying
// ExportDirs overrides and falling back to the workspace-relative
// defaults from spec §6's persistent layout. exportDirOverride, if
// non-empty, replaces the workspace-relative "<workspace>/export" root
// the way the CLI's --export-dir flag does.
func (c *Config) Paths(exportDirOverride string) WorkspacePaths {
	exportRoot := filepath.Join(c.WorkspaceDir, "export")
	if exportDirOverride != "" {
		exportRoot = exportDirOverride
	}

	resolve := func(override, defaultRel string) string {
		if override == "" {
			return filepath.Join(exportRoot, defaultRel)
		}
		if filepath.IsAbs(override) {
			return override
		}
		return filepath.Join(c.WorkspaceDir, override)
	}

	return WorkspacePaths{
		DataDB:      filepath.Join(c.WorkspaceDir, "db", "main"),
		ContentsDB:  filepath.Join(c.WorkspaceDir, "db", "contents"),
		CacheTmp:    filepath.Join(c.WorkspaceDir, "cache", "tmp"),
		MediaExport: resolve(c.ExportDirs.Media, "media"),
		DataExport:  resolve(c.ExportDirs.Data, "data"),
		HTMLExport:  resolve(c.ExportDirs.Html, "html"),
	}
}

// MediaBaseURL returns the base URL icon references are built from,
// trimmed of a trailing slash for consistent joining.
func (c *Config) MediaBaseURL() string {
	return strings.TrimRight(c.MediaBaseUrl, "/")
}

// RootURL returns the report site's base URL, trimmed the same way.
func (c *Config) RootURL() string {
	return strings.TrimRight(c.HtmlBaseUrl, "/")
}
