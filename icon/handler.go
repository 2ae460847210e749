package icon

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"path"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/quay/zlog"

	"github.com/asgen/asgen"
	"github.com/asgen/asgen/pkgmodel"
	"github.com/asgen/asgen/store/contents"
)

// extensionPreference is the fixed extension search order spec §4.7
// names for both theme-directory lookups and the 64x64@1 compat paths.
var extensionPreference = []string{".png", ".svgz", ".svg", ".jxl", ".jpg", ".jpeg", ".gif", ".ico", ".xpm"}

// allowedStoredExtensions is the subset of extensionPreference the icon
// field is actually permitted to reference; anything else is rejected
// with "icon-format-unsupported".
var allowedStoredExtensions = map[string]bool{
	".png": true, ".jxl": true, ".svgz": true, ".svg": true, ".xpm": true,
}

func isVectorExt(ext string) bool { return ext == ".svg" || ext == ".svgz" }

// Handler finds and renders icons for components, backed by a fixed
// theme search order, a per-section candidate package set, and the
// contents store's global icon-file index as a fallback.
type Handler struct {
	ContentsStore *contents.Store
	MediaRoot     string
	// MediaBaseURL is the configured HTTP base remote icon references
	// are built from (spec §6's MediaBaseUrl); empty when the suite has
	// no remote icon hosting configured.
	MediaBaseURL string
	Candidates   map[asgen.Pkid]pkgmodel.Package
	AltPrefix    string // e.g. "/opt/<x>" for backends installing outside /usr

	// Themes is the priority-ordered theme list: the bundled hicolor theme
	// first, then the themes passed to NewHandler in the order given. The
	// handler adds no other theme itself; Adwaita, AdwaitaLegacy, breeze
	// or a suite's own theme are searched only when passed in.
	Themes []*Theme

	mu        sync.Mutex
	iconCache map[string]pkgFile // iconName|size -> resolved source
}

type pkgFile struct {
	pkid asgen.Pkid
	path string
	data []byte
}

// NewHandler constructs a Handler with the mandatory hicolor fallback
// theme first in priority order, followed by any extra themes the suite
// configuration supplies (e.g. a packaged hicolor/Adwaita/breeze theme
// found among the candidate packages).
func NewHandler(store *contents.Store, mediaRoot, mediaBaseURL string, candidates map[asgen.Pkid]pkgmodel.Package, altPrefix string, themes []*Theme) (*Handler, error) {
	hicolor, err := BundledHicolorTheme()
	if err != nil {
		return nil, err
	}
	ordered := append([]*Theme{hicolor}, themes...)
	return &Handler{
		ContentsStore: store,
		MediaRoot:     mediaRoot,
		MediaBaseURL:  strings.TrimRight(mediaBaseURL, "/"),
		Candidates:    candidates,
		AltPrefix:     altPrefix,
		Themes:        ordered,
		iconCache:     map[string]pkgFile{},
	}, nil
}

// FindIcon searches for iconName at (size, scale) in theme directories,
// then (for the mandatory 64x64@1 size only) compat paths. Each candidate
// path is looked up in the candidate package's own contents first, then
// in the global icon-file index.
func (h *Handler) FindIcon(ctx context.Context, candidatePkid asgen.Pkid, iconName string, size Size) (pkgFile, bool, error) {
	h.mu.Lock()
	cacheKey := iconName + "|" + size.String() + "|" + string(candidatePkid)
	if cached, ok := h.iconCache[cacheKey]; ok {
		h.mu.Unlock()
		return cached, true, nil
	}
	h.mu.Unlock()

	pf, ok, err := h.findIconUncached(candidatePkid, iconName, size)
	if err != nil || !ok {
		return pkgFile{}, false, err
	}
	h.mu.Lock()
	h.iconCache[cacheKey] = pf
	h.mu.Unlock()
	return pf, true, nil
}

func (h *Handler) findIconUncached(candidatePkid asgen.Pkid, iconName string, size Size) (pkgFile, bool, error) {
	for _, theme := range h.Themes {
		for _, dir := range theme.Dirs {
			if !dir.Matches(size.Width, size.Scale) {
				continue
			}
			for _, ext := range extensionPreference {
				p := fmt.Sprintf("/usr/share/icons/%s/%s/%s%s", theme.Name, dir.Path, iconName, ext)
				if pf, ok, err := h.tryPath(candidatePkid, p); err != nil {
					return pkgFile{}, false, err
				} else if ok {
					return pf, true, nil
				}
			}
		}
	}

	if size == DefaultSize {
		prefixes := []string{"/usr/share/icons", "/usr/share/pixmaps"}
		if h.AltPrefix != "" {
			prefixes = append(prefixes, path.Join(h.AltPrefix, "share/icons"), path.Join(h.AltPrefix, "share/pixmaps"))
		}
		for _, prefix := range prefixes {
			for _, ext := range extensionPreference {
				p := fmt.Sprintf("%s/%s%s", prefix, iconName, ext)
				if pf, ok, err := h.tryPath(candidatePkid, p); err != nil {
					return pkgFile{}, false, err
				} else if ok {
					return pf, true, nil
				}
			}
		}
	}

	return pkgFile{}, false, nil
}

// findUpscaleSource implements the last-resort branch of spec §4.7's
// sizing policy: "if still nothing and upscaling is enabled by
// configuration, accept any >=48x48 source to satisfy the mandatory
// 64x64 size." It scans every theme directory at any scale whose
// declared size is at least minRasterSourceSize, in ascending order, and
// returns the first real source it can read.
func (h *Handler) findUpscaleSource(candidatePkid asgen.Pkid, iconName string) (pkgFile, bool, error) {
	for _, theme := range h.Themes {
		for _, dir := range theme.Dirs {
			if dir.Size < minRasterSourceSize {
				continue
			}
			for _, ext := range extensionPreference {
				p := fmt.Sprintf("/usr/share/icons/%s/%s/%s%s", theme.Name, dir.Path, iconName, ext)
				if pf, ok, err := h.tryPath(candidatePkid, p); err != nil {
					return pkgFile{}, false, err
				} else if ok {
					return pf, true, nil
				}
			}
		}
	}
	return pkgFile{}, false, nil
}

// tryPath checks the candidate package first, then falls back to the
// global icon-file index from the contents store (spec §4.7 step 3).
func (h *Handler) tryPath(candidatePkid asgen.Pkid, p string) (pkgFile, bool, error) {
	if pkg, ok := h.Candidates[candidatePkid]; ok {
		if data, ok, err := readFileIfPresent(pkg, p); err != nil {
			return pkgFile{}, false, err
		} else if ok {
			return pkgFile{pkid: candidatePkid, path: p, data: data}, true, nil
		}
	}

	allPkids, err := h.ContentsStore.GetPackageIDSet()
	if err != nil {
		return pkgFile{}, false, err
	}
	var ids []asgen.Pkid
	for id := range allPkids {
		ids = append(ids, id)
	}
	globalMap, err := h.ContentsStore.GetIconFilesMap(ids)
	if err != nil {
		return pkgFile{}, false, err
	}
	ownerPkid, ok := globalMap[p]
	if !ok {
		return pkgFile{}, false, nil
	}
	pkg, ok := h.Candidates[ownerPkid]
	if !ok {
		return pkgFile{}, false, nil
	}
	data, ok, err := readFileIfPresent(pkg, p)
	if err != nil || !ok {
		return pkgFile{}, false, err
	}
	return pkgFile{pkid: ownerPkid, path: p, data: data}, true, nil
}

func readFileIfPresent(pkg pkgmodel.Package, p string) ([]byte, bool, error) {
	data, err := pkg.FileData(p)
	if err != nil {
		return nil, false, nil
	}
	return data, true, nil
}

// rasterSource is a decoded raster image plus the path it came from, kept
// around so ResolveAllSizes can downscale it for smaller configured sizes
// instead of re-searching and re-decoding per size.
type rasterSource struct {
	img  image.Image
	path string
}

// ResolveAndStore implements the full per-size pipeline: find a source,
// validate its extension, render it (skipped for a RemoteOnly size, which
// needs only the resolved source's name, not a rendered PNG), and store
// the PNG under the component's media pool, returning the "cached"
// and/or "remote" references, any hint tags raised along the way, and
// (for raster sources) the decoded image so a caller iterating multiple
// sizes can downscale it for smaller ones instead of re-decoding. reuse,
// when non-nil, skips source lookup and decoding entirely and downscales
// reuse.img directly.
func (h *Handler) ResolveAndStore(ctx context.Context, candidatePkid asgen.Pkid, pkgName string, isFake bool, gcid asgen.GCID, iconName string, size Size, policy Policy, upscaleAllowed bool, reuse *rasterSource) (Stored, []Hint, *rasterSource, error) {
	if policy == Ignored {
		return Stored{}, nil, nil, nil
	}
	remoteOnly := policy == RemoteOnly

	ext := path.Ext(iconName)
	if ext != "" && !allowedStoredExtensions[strings.ToLower(ext)] {
		return Stored{}, []Hint{{Tag: "icon-format-unsupported", Vars: map[string]any{"extension": ext}}}, nil, nil
	}

	var png []byte
	var scaledUp bool
	var decoded *rasterSource
	var sourcePath string

	if reuse != nil {
		sourcePath = reuse.path
		if !remoteOnly {
			resized := imaging.Resize(reuse.img, size.Width, size.Height, imaging.Lanczos)
			var buf bytes.Buffer
			if err := imaging.Encode(&buf, resized, imaging.PNG); err != nil {
				return Stored{}, nil, nil, fmt.Errorf("icon: encode downscaled PNG: %w", err)
			}
			png = buf.Bytes()
		}
	} else {
		pf, ok, err := h.FindIcon(ctx, candidatePkid, trimExt(iconName), size)
		if err != nil {
			return Stored{}, nil, nil, err
		}
		if !ok {
			if !upscaleAllowed || size != DefaultSize {
				return Stored{}, []Hint{{Tag: "icon-not-found", Vars: map[string]any{"icon": iconName}}}, nil, nil
			}
			pf, ok, err = h.findUpscaleSource(candidatePkid, trimExt(iconName))
			if err != nil {
				return Stored{}, nil, nil, err
			}
			if !ok {
				return Stored{}, []Hint{{Tag: "icon-not-found", Vars: map[string]any{"icon": iconName}}}, nil, nil
			}
		}
		sourcePath = pf.path

		if remoteOnly {
			// nothing to render: the remote reference only needs the
			// resolved source's normalized name, computed below.
		} else if isVectorExt(strings.ToLower(path.Ext(pf.path))) {
			png, err = RenderVector(ctx, pf.data, size.Width, size.Height)
			if err != nil {
				zlog.Warn(ctx).Err(err).Str("icon", iconName).Msg("icon: vector render failed")
				return Stored{}, []Hint{{Tag: "image-write-error", Vars: map[string]any{"error": err.Error()}}}, nil, nil
			}
		} else {
			res, src, rerr := RenderRasterKeepSource(pf.data, size.Width, size.Height)
			if rerr != nil {
				zlog.Debug(ctx).Err(rerr).Str("icon", iconName).Msg("icon: raster rejected")
				return Stored{}, []Hint{{Tag: "icon-too-small", Vars: map[string]any{"error": rerr.Error()}}}, nil, nil
			}
			png, scaledUp = res.PNG, res.ScaledUp
			decoded = &rasterSource{img: src, path: pf.path}
		}
	}

	name := storedIconName(pkgName, isFake, sourcePath)

	var stored Stored
	if !remoteOnly {
		destDir := fmt.Sprintf("%s/%s/icons/%s", h.MediaRoot, gcid, size.String())
		dest := destDir + "/" + name
		if err := writeIfAbsent(dest, png); err != nil {
			zlog.Warn(ctx).Err(err).Str("dest", dest).Msg("icon: write failed")
			return Stored{}, []Hint{{Tag: "image-write-error", Vars: map[string]any{"error": err.Error()}}}, nil, nil
		}
		stored.RelativeName = name
		stored.CachedPath = fmt.Sprintf("icons/%s/%s", size.String(), name)
	}
	if policy == RemoteOnly || policy == CachedAndRemote {
		stored.RemoteURL = fmt.Sprintf("%s/%s/icons/%s/%s", h.MediaBaseURL, gcid, size.String(), name)
	}

	var hints []Hint
	if scaledUp {
		hints = append(hints, Hint{Tag: "icon-scaled-up", Vars: map[string]any{"icon": iconName}})
	}
	return stored, hints, decoded, nil
}

// ResolveAllSizes runs ResolveAndStore across every non-Ignored size in
// cfg, largest first, reusing the first successfully decoded raster
// source to satisfy smaller sizes by downscaling instead of re-decoding
// and re-searching per size — spec §4.7's "reuse a larger size that has
// already been found" rule, surfaced here since it is a property of the
// whole size set rather than any single size. Vector sources are always
// re-rendered directly at the target size, since rsvg-convert does this
// as cheaply as downscaling a raster would.
func (h *Handler) ResolveAllSizes(ctx context.Context, candidatePkid asgen.Pkid, pkgName string, isFake bool, gcid asgen.GCID, iconName string, cfg PolicyConfig, upscaleAllowed bool) (map[Size]Stored, []Hint, error) {
	out := map[Size]Stored{}
	var hints []Hint
	var reuse *rasterSource

	for _, size := range cfg.sizesDescendingBySize() {
		stored, hs, decoded, err := h.ResolveAndStore(ctx, candidatePkid, pkgName, isFake, gcid, iconName, size, cfg.PolicyFor(size), upscaleAllowed, reuse)
		if err != nil {
			return nil, nil, err
		}
		hints = append(hints, hs...)
		if stored.RelativeName != "" || stored.RemoteURL != "" {
			out[size] = stored
		}
		if reuse == nil && decoded != nil {
			reuse = decoded
		}
	}
	return out, hints, nil
}

// Stored describes where a rendered icon ended up.
type Stored struct {
	RelativeName string
	CachedPath   string
	// RemoteURL is set when policy is RemoteOnly or CachedAndRemote: the
	// full URL (MediaBaseURL + gcid + size + name) a client should fetch
	// the icon from instead of (or in addition to) the cached reference.
	RemoteURL string
}

// Hint is the icon handler's local view of a diagnostic to raise; the
// extractor (C8) translates these into asgen.Hint values attached to the
// owning component.
type Hint struct {
	Tag  string
	Vars map[string]any
}

func trimExt(name string) string {
	if ext := path.Ext(name); ext != "" {
		return strings.TrimSuffix(name, ext)
	}
	return name
}

// storedIconName implements spec §4.7's "Storing an icon" filename rule.
func storedIconName(pkgName string, isFake bool, sourcePath string) string {
	base := path.Base(sourcePath)
	stem := strings.TrimSuffix(base, path.Ext(base)) + ".png"
	if isFake {
		return stem
	}
	return pkgName + "_" + stem
}
