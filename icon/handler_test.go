package icon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/asgen/asgen"
	"github.com/asgen/asgen/pkgmodel"
	"github.com/asgen/asgen/store/contents"
)

func openTestStore(t *testing.T) *contents.Store {
	t.Helper()
	s, err := contents.Open(filepath.Join(t.TempDir(), "contents.db"))
	if err != nil {
		t.Fatalf("contents.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeFilePackage is a minimal pkgmodel.Package backed by an in-memory
// path -> bytes map, standing in for a backend-produced package in tests.
func fakeFilePackage(name, version, arch string, files map[string][]byte) pkgmodel.Package {
	return pkgmodel.New(name, version, arch,
		func() ([]string, error) {
			var paths []string
			for p := range files {
				paths = append(paths, p)
			}
			return paths, nil
		},
		func(p string) ([]byte, error) {
			data, ok := files[p]
			if !ok {
				return nil, errFileNotPresent
			}
			return data, nil
		},
		nil,
	)
}

var errFileNotPresent = errors.New("file not present")

func TestFindIconSearchesThemeDirectoriesFirst(t *testing.T) {
	store := openTestStore(t)
	pkid := asgen.NewPkid("foo", "1.0", "amd64")
	iconData := encodePNG(t, 64, 64)
	pkg := fakeFilePackage("foo", "1.0", "amd64", map[string][]byte{
		"/usr/share/icons/hicolor/64x64/apps/foo.png": iconData,
	})
	h, err := NewHandler(store, t.TempDir(), "", map[asgen.Pkid]pkgmodel.Package{pkid: pkg}, "", nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	pf, ok, err := h.FindIcon(context.Background(), pkid, "foo", DefaultSize)
	if err != nil {
		t.Fatalf("FindIcon: %v", err)
	}
	if !ok {
		t.Fatal("expected to find foo.png in the hicolor theme directory")
	}
	if pf.path != "/usr/share/icons/hicolor/64x64/apps/foo.png" {
		t.Fatalf("path = %q", pf.path)
	}

	// second call should hit the cache and return the identical record.
	pf2, ok, err := h.FindIcon(context.Background(), pkid, "foo", DefaultSize)
	if err != nil || !ok || pf2.path != pf.path {
		t.Fatalf("expected cached FindIcon to return the same result, got %+v, %v, %v", pf2, ok, err)
	}
}

func TestFindIconFallsBackToCompatPaths(t *testing.T) {
	store := openTestStore(t)
	pkid := asgen.NewPkid("foo", "1.0", "amd64")
	pkg := fakeFilePackage("foo", "1.0", "amd64", map[string][]byte{
		"/usr/share/pixmaps/foo.png": encodePNG(t, 64, 64),
	})
	h, err := NewHandler(store, t.TempDir(), "", map[asgen.Pkid]pkgmodel.Package{pkid: pkg}, "", nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	pf, ok, err := h.FindIcon(context.Background(), pkid, "foo", DefaultSize)
	if err != nil {
		t.Fatalf("FindIcon: %v", err)
	}
	if !ok || pf.path != "/usr/share/pixmaps/foo.png" {
		t.Fatalf("expected compat pixmaps fallback, got %+v, %v", pf, ok)
	}
}

func TestFindIconCompatPathsOnlyApplyToDefaultSize(t *testing.T) {
	store := openTestStore(t)
	pkid := asgen.NewPkid("foo", "1.0", "amd64")
	pkg := fakeFilePackage("foo", "1.0", "amd64", map[string][]byte{
		"/usr/share/pixmaps/foo.png": encodePNG(t, 128, 128),
	})
	h, err := NewHandler(store, t.TempDir(), "", map[asgen.Pkid]pkgmodel.Package{pkid: pkg}, "", nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	_, ok, err := h.FindIcon(context.Background(), pkid, "foo", Size{Width: 128, Height: 128, Scale: 1})
	if err != nil {
		t.Fatalf("FindIcon: %v", err)
	}
	if ok {
		t.Fatal("expected compat paths not to apply to a non-default size")
	}
}

func TestFindIconFallsBackToGlobalContentsIndex(t *testing.T) {
	store := openTestStore(t)
	ownerPkid := asgen.NewPkid("icon-theme-pkg", "1.0", "amd64")
	candidatePkid := asgen.NewPkid("bar", "1.0", "amd64")
	iconPath := "/usr/share/icons/hicolor/64x64/apps/bar.png"

	if err := store.AddContents(context.Background(), ownerPkid, []string{iconPath}); err != nil {
		t.Fatalf("AddContents: %v", err)
	}
	ownerPkg := fakeFilePackage("icon-theme-pkg", "1.0", "amd64", map[string][]byte{
		iconPath: encodePNG(t, 64, 64),
	})
	candidatePkg := fakeFilePackage("bar", "1.0", "amd64", nil)

	h, err := NewHandler(store, t.TempDir(), "", map[asgen.Pkid]pkgmodel.Package{
		ownerPkid:     ownerPkg,
		candidatePkid: candidatePkg,
	}, "", nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	pf, ok, err := h.FindIcon(context.Background(), candidatePkid, "bar", DefaultSize)
	if err != nil {
		t.Fatalf("FindIcon: %v", err)
	}
	if !ok || pf.pkid != ownerPkid {
		t.Fatalf("expected global index fallback to resolve to the owning package, got %+v, %v", pf, ok)
	}
}

func TestResolveAndStoreRejectsUnsupportedExtension(t *testing.T) {
	store := openTestStore(t)
	pkid := asgen.NewPkid("foo", "1.0", "amd64")
	h, err := NewHandler(store, t.TempDir(), "", map[asgen.Pkid]pkgmodel.Package{}, "", nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	_, hints, _, err := h.ResolveAndStore(context.Background(), pkid, "foo", false, asgen.GCID("gcid1"), "foo.bmp", DefaultSize, CachedOnly, false, nil)
	if err != nil {
		t.Fatalf("ResolveAndStore: %v", err)
	}
	if len(hints) != 1 || hints[0].Tag != "icon-format-unsupported" {
		t.Fatalf("expected icon-format-unsupported hint, got %+v", hints)
	}
}

func TestResolveAndStoreRendersAndWritesPNG(t *testing.T) {
	store := openTestStore(t)
	pkid := asgen.NewPkid("foo", "1.0", "amd64")
	pkg := fakeFilePackage("foo", "1.0", "amd64", map[string][]byte{
		"/usr/share/icons/hicolor/64x64/apps/foo.png": encodePNG(t, 64, 64),
	})
	mediaRoot := t.TempDir()
	h, err := NewHandler(store, mediaRoot, "", map[asgen.Pkid]pkgmodel.Package{pkid: pkg}, "", nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	stored, hints, _, err := h.ResolveAndStore(context.Background(), pkid, "foo", false, asgen.GCID("gcid1"), "foo.png", DefaultSize, CachedOnly, false, nil)
	if err != nil {
		t.Fatalf("ResolveAndStore: %v", err)
	}
	if len(hints) != 0 {
		t.Fatalf("expected no hints, got %+v", hints)
	}
	if stored.RelativeName != "foo_foo.png" {
		t.Fatalf("RelativeName = %q, want foo_foo.png", stored.RelativeName)
	}
	dest := filepath.Join(mediaRoot, "gcid1", "icons", "64x64", "foo_foo.png")
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("expected rendered PNG at %s: %v", dest, err)
	}
}

func TestResolveAndStoreReportsNotFound(t *testing.T) {
	store := openTestStore(t)
	pkid := asgen.NewPkid("foo", "1.0", "amd64")
	h, err := NewHandler(store, t.TempDir(), "", map[asgen.Pkid]pkgmodel.Package{}, "", nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	stored, hints, _, err := h.ResolveAndStore(context.Background(), pkid, "foo", false, asgen.GCID("gcid1"), "missing.png", DefaultSize, CachedOnly, false, nil)
	if err != nil {
		t.Fatalf("ResolveAndStore: %v", err)
	}
	if stored.RelativeName != "" {
		t.Fatalf("expected no stored icon, got %+v", stored)
	}
	if len(hints) != 1 || hints[0].Tag != "icon-not-found" {
		t.Fatalf("expected icon-not-found hint, got %+v", hints)
	}
}

func TestResolveAndStoreIgnoredPolicySkipsRendering(t *testing.T) {
	store := openTestStore(t)
	pkid := asgen.NewPkid("foo", "1.0", "amd64")
	h, err := NewHandler(store, t.TempDir(), "", map[asgen.Pkid]pkgmodel.Package{}, "", nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	stored, hints, decoded, err := h.ResolveAndStore(context.Background(), pkid, "foo", false, asgen.GCID("gcid1"), "foo.png", DefaultSize, Ignored, false, nil)
	if err != nil || stored.RelativeName != "" || stored.RemoteURL != "" || hints != nil || decoded != nil {
		t.Fatalf("Ignored: expected a no-op result, got %+v, %+v, %+v, %v", stored, hints, decoded, err)
	}
}

func TestResolveAndStoreRemoteOnlyPolicyEmitsRemoteURLWithoutRenderingAPNG(t *testing.T) {
	store := openTestStore(t)
	pkid := asgen.NewPkid("foo", "1.0", "amd64")
	pkg := fakeFilePackage("foo", "1.0", "amd64", map[string][]byte{
		"/usr/share/icons/hicolor/64x64/apps/foo.png": encodePNG(t, 64, 64),
	})
	mediaRoot := t.TempDir()
	h, err := NewHandler(store, mediaRoot, "https://example.org/media", map[asgen.Pkid]pkgmodel.Package{pkid: pkg}, "", nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	stored, hints, decoded, err := h.ResolveAndStore(context.Background(), pkid, "foo", false, asgen.GCID("gcid1"), "foo.png", DefaultSize, RemoteOnly, false, nil)
	if err != nil {
		t.Fatalf("ResolveAndStore: %v", err)
	}
	if len(hints) != 0 || decoded != nil {
		t.Fatalf("expected no hints and no decoded source, got %+v, %v", hints, decoded)
	}
	if stored.RelativeName != "" || stored.CachedPath != "" {
		t.Fatalf("expected no cached reference for RemoteOnly, got %+v", stored)
	}
	want := "https://example.org/media/gcid1/icons/64x64/foo_foo.png"
	if stored.RemoteURL != want {
		t.Fatalf("RemoteURL = %q, want %q", stored.RemoteURL, want)
	}
	dest := filepath.Join(mediaRoot, "gcid1", "icons", "64x64", "foo_foo.png")
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatalf("expected no PNG written for RemoteOnly, stat err = %v", err)
	}
}

func TestResolveAndStoreCachedAndRemotePolicyEmitsBothReferences(t *testing.T) {
	store := openTestStore(t)
	pkid := asgen.NewPkid("foo", "1.0", "amd64")
	pkg := fakeFilePackage("foo", "1.0", "amd64", map[string][]byte{
		"/usr/share/icons/hicolor/64x64/apps/foo.png": encodePNG(t, 64, 64),
	})
	mediaRoot := t.TempDir()
	h, err := NewHandler(store, mediaRoot, "https://example.org/media", map[asgen.Pkid]pkgmodel.Package{pkid: pkg}, "", nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	stored, hints, _, err := h.ResolveAndStore(context.Background(), pkid, "foo", false, asgen.GCID("gcid1"), "foo.png", DefaultSize, CachedAndRemote, false, nil)
	if err != nil {
		t.Fatalf("ResolveAndStore: %v", err)
	}
	if len(hints) != 0 {
		t.Fatalf("expected no hints, got %+v", hints)
	}
	if stored.RelativeName != "foo_foo.png" {
		t.Fatalf("RelativeName = %q, want foo_foo.png", stored.RelativeName)
	}
	want := "https://example.org/media/gcid1/icons/64x64/foo_foo.png"
	if stored.RemoteURL != want {
		t.Fatalf("RemoteURL = %q, want %q", stored.RemoteURL, want)
	}
	dest := filepath.Join(mediaRoot, "gcid1", "icons", "64x64", "foo_foo.png")
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("expected rendered PNG at %s: %v", dest, err)
	}
}

func TestResolveAllSizesReusesLargerDecodedSource(t *testing.T) {
	store := openTestStore(t)
	pkid := asgen.NewPkid("foo", "1.0", "amd64")
	large := Size{Width: 128, Height: 128, Scale: 1}
	pkg := fakeFilePackage("foo", "1.0", "amd64", map[string][]byte{
		"/usr/share/icons/hicolor/128x128/apps/foo.png": encodePNG(t, 128, 128),
	})
	h, err := NewHandler(store, t.TempDir(), "", map[asgen.Pkid]pkgmodel.Package{pkid: pkg}, "", nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	cfg := PolicyConfig{large: CachedOnly, DefaultSize: CachedOnly}

	out, hints, err := h.ResolveAllSizes(context.Background(), pkid, "foo", false, asgen.GCID("gcid1"), "foo.png", cfg, false)
	if err != nil {
		t.Fatalf("ResolveAllSizes: %v", err)
	}
	if len(hints) != 0 {
		t.Fatalf("expected no hints, got %+v", hints)
	}
	if _, ok := out[large]; !ok {
		t.Fatal("expected the large size to be stored from the direct source")
	}
	// DefaultSize (64x64) has no icon of its own in the candidate package;
	// it must be satisfied by downscaling the 128x128 source found above.
	if _, ok := out[DefaultSize]; !ok {
		t.Fatal("expected the default size to be satisfied by downscaling the larger source")
	}
}
