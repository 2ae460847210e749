package extract

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/asgen/asgen"
	"github.com/asgen/asgen/extract/compose"
	"github.com/asgen/asgen/icon"
	"github.com/asgen/asgen/pkgmodel"
	"github.com/asgen/asgen/store/contents"
	"github.com/asgen/asgen/store/data"
)

var errIconFileNotPresent = errors.New("icon file not present")

// fakeEngine is a scripted compose.Engine: it returns a fixed Result
// from Run and records the calls the extractor made, letting tests drive
// the pipeline without a real file-scanning implementation.
type fakeEngine struct {
	flags      compose.Flags
	xlateFn    compose.DesktopTranslationFunc
	checkFn    func(gcid string, cpt *compose.Component) bool
	result     *compose.Result
	runErr     error
	finalizeFn func(*compose.Result) error
}

func (f *fakeEngine) Reset()                    {}
func (f *fakeEngine) SetFlags(fl compose.Flags) { f.flags = fl }
func (f *fakeEngine) SetDesktopTranslationCallback(fn compose.DesktopTranslationFunc) {
	f.xlateFn = fn
}
func (f *fakeEngine) SetIntermediateCheck(fn func(gcid string, cpt *compose.Component) bool) {
	f.checkFn = fn
}

func (f *fakeEngine) Run(ctx context.Context, unit compose.Unit) (*compose.Result, error) {
	if f.runErr != nil {
		return nil, f.runErr
	}
	var kept []*compose.Component
	for _, cpt := range f.result.Components {
		gcid := compose.Gcid(cpt.ID, unit.ID)
		if f.checkFn != nil && !f.checkFn(gcid, cpt) {
			continue
		}
		kept = append(kept, cpt)
	}
	return &compose.Result{Components: kept, Warnings: f.result.Warnings}, nil
}

func (f *fakeEngine) Finalize(ctx context.Context, res *compose.Result) error {
	if f.finalizeFn != nil {
		return f.finalizeFn(res)
	}
	return nil
}

func fakePackage(t *testing.T, name, version, arch string, kind pkgmodel.Kind, descMap, summaryMap map[string]string, codec *pkgmodel.Codec) pkgmodel.Package {
	t.Helper()
	var b *pkgmodel.Base
	if kind == pkgmodel.Fake {
		b = pkgmodel.NewFake(version, arch, func() ([]string, error) { return nil, nil }, func(string) ([]byte, error) { return nil, nil }, func() error { return nil })
	} else {
		b = pkgmodel.New(name, version, arch, func() ([]string, error) { return nil, nil }, func(string) ([]byte, error) { return nil, nil }, func() error { return nil })
	}
	if descMap != nil {
		b.WithDescriptionMap(descMap)
	}
	if summaryMap != nil {
		b.WithSummaryMap(summaryMap)
	}
	if codec != nil {
		b.WithCodec(codec)
	}
	return b
}

func newTestExtractor(t *testing.T, eng compose.Engine) (*Extractor, *data.Store) {
	t.Helper()
	store, err := data.Open(filepath.Join(t.TempDir(), "data.db"))
	if err != nil {
		t.Fatalf("data.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cstore, err := contents.Open(filepath.Join(t.TempDir(), "contents.db"))
	if err != nil {
		t.Fatalf("contents.Open: %v", err)
	}
	t.Cleanup(func() { cstore.Close() })

	handler, err := icon.NewHandler(cstore, t.TempDir(), "", map[asgen.Pkid]pkgmodel.Package{}, "", nil)
	if err != nil {
		t.Fatalf("icon.NewHandler: %v", err)
	}

	ex := NewExtractor(eng, handler, store, data.MetadataXML)
	return ex, store
}

func TestProcessPackageBackfillsDescriptionFromPackage(t *testing.T) {
	pkid := asgen.NewPkid("foo", "1.0", "amd64")
	pkg := fakePackage(t, "foo", "1.0", "amd64", pkgmodel.Regular,
		map[string]string{"C": "Long description from the package."}, nil, nil)

	eng := &fakeEngine{result: &compose.Result{Components: []*compose.Component{
		{ID: "org.example.foo", Kind: compose.KindDesktopApp, Name: map[string]string{"C": "Foo"}, Description: map[string]string{}},
	}}}
	ex, _ := newTestExtractor(t, eng)

	res, err := ex.ProcessPackage(context.Background(), pkid, pkg)
	if err != nil {
		t.Fatalf("ProcessPackage: %v", err)
	}
	if res.ComponentsCount() != 1 {
		t.Fatalf("ComponentsCount = %d, want 1", res.ComponentsCount())
	}
	if !res.HasHint("org.example.foo", "description-from-package") {
		t.Fatal("expected a description-from-package hint")
	}
	cpt := res.Components()[0]
	if cpt.Description["C"] != "Long description from the package." {
		t.Fatalf("unexpected description: %+v", cpt.Description)
	}
}

func TestProcessPackageRaisesDescriptionMissing(t *testing.T) {
	pkid := asgen.NewPkid("foo", "1.0", "amd64")
	pkg := fakePackage(t, "foo", "1.0", "amd64", pkgmodel.Regular, nil, nil, nil)

	eng := &fakeEngine{result: &compose.Result{Components: []*compose.Component{
		{ID: "org.example.foo", Kind: compose.KindConsoleApp, Description: map[string]string{}},
	}}}
	ex, _ := newTestExtractor(t, eng)

	res, err := ex.ProcessPackage(context.Background(), pkid, pkg)
	if err != nil {
		t.Fatalf("ProcessPackage: %v", err)
	}
	if !res.HasHint("org.example.foo", "description-missing") {
		t.Fatal("expected a description-missing hint")
	}
}

func TestProcessPackageSkipsIconResolutionHintNonFatal(t *testing.T) {
	pkid := asgen.NewPkid("foo", "1.0", "amd64")
	pkg := fakePackage(t, "foo", "1.0", "amd64", pkgmodel.Regular, map[string]string{"C": "d"}, nil, nil)

	eng := &fakeEngine{result: &compose.Result{Components: []*compose.Component{
		{
			ID: "org.example.foo", Kind: compose.KindDesktopApp,
			Description: map[string]string{}, Icons: []compose.Icon{{Kind: "stock", Name: "foo-icon"}},
		},
	}}}
	ex, _ := newTestExtractor(t, eng)
	ex.IconPolicy = icon.PolicyConfig{icon.DefaultSize: icon.CachedOnly}

	res, err := ex.ProcessPackage(context.Background(), pkid, pkg)
	if err != nil {
		t.Fatalf("ProcessPackage: %v", err)
	}
	if res.ComponentsCount() != 1 {
		t.Fatalf("ComponentsCount = %d, want 1 (icon-not-found is non-fatal)", res.ComponentsCount())
	}
	if !res.HasHint("org.example.foo", "icon-not-found") {
		t.Fatal("expected an icon-not-found hint")
	}
	cpt := res.Components()[0]
	if len(cpt.Icons) != 0 {
		t.Fatalf("expected icons to be cleared when nothing was resolved, got %+v", cpt.Icons)
	}
}

func TestProcessPackageCachedAndRemotePolicyEmitsBothIconReferences(t *testing.T) {
	pkid := asgen.NewPkid("foo", "1.0", "amd64")
	iconPath := "/usr/share/icons/hicolor/64x64/apps/foo-icon.png"
	// CachedAndRemote renders the cached copy, so the source has to be a
	// decodable image of at least the minimum raster size.
	var iconPNG bytes.Buffer
	if err := png.Encode(&iconPNG, image.NewRGBA(image.Rect(0, 0, 64, 64))); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	pkg := pkgmodel.New("foo", "1.0", "amd64",
		func() ([]string, error) { return []string{iconPath}, nil },
		func(p string) ([]byte, error) {
			if p == iconPath {
				return iconPNG.Bytes(), nil
			}
			return nil, errIconFileNotPresent
		},
		nil,
	)

	eng := &fakeEngine{result: &compose.Result{Components: []*compose.Component{
		{
			ID: "org.example.foo", Kind: compose.KindDesktopApp,
			Description: map[string]string{}, Icons: []compose.Icon{{Kind: "stock", Name: "foo-icon"}},
		},
	}}}

	store, err := data.Open(filepath.Join(t.TempDir(), "data.db"))
	if err != nil {
		t.Fatalf("data.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	cstore, err := contents.Open(filepath.Join(t.TempDir(), "contents.db"))
	if err != nil {
		t.Fatalf("contents.Open: %v", err)
	}
	t.Cleanup(func() { cstore.Close() })
	handler, err := icon.NewHandler(cstore, t.TempDir(), "https://example.org/media",
		map[asgen.Pkid]pkgmodel.Package{pkid: pkg}, "", nil)
	if err != nil {
		t.Fatalf("icon.NewHandler: %v", err)
	}
	ex := NewExtractor(eng, handler, store, data.MetadataXML)
	ex.IconPolicy = icon.PolicyConfig{icon.DefaultSize: icon.CachedAndRemote}

	res, err := ex.ProcessPackage(context.Background(), pkid, pkg)
	if err != nil {
		t.Fatalf("ProcessPackage: %v", err)
	}
	cpt := res.Components()[0]
	if len(cpt.Icons) != 2 {
		t.Fatalf("expected both a cached and a remote icon reference, got %+v", cpt.Icons)
	}
	var sawCached, sawRemote bool
	for _, icn := range cpt.Icons {
		switch icn.Kind {
		case "cached":
			sawCached = true
			if icn.Name != "foo_foo-icon.png" {
				t.Errorf("cached icon name = %q, want foo_foo-icon.png", icn.Name)
			}
		case "remote":
			sawRemote = true
			want := "https://example.org/media/" + cpt.Gcid + "/icons/64x64/foo_foo-icon.png"
			if icn.Name != want {
				t.Errorf("remote icon URL = %q, want %q", icn.Name, want)
			}
		}
	}
	if !sawCached || !sawRemote {
		t.Fatalf("expected both cached and remote kinds, got %+v", cpt.Icons)
	}
}

func TestProcessPackageFlagsDuplicateAndKeepsGcid(t *testing.T) {
	pkid := asgen.NewPkid("foo", "1.0", "amd64")
	otherPkid := asgen.NewPkid("bar", "1.0", "amd64")
	pkg := fakePackage(t, "foo", "1.0", "amd64", pkgmodel.Regular, nil, nil, nil)

	cpt := &compose.Component{ID: "org.example.foo", Kind: compose.KindDesktopApp}
	eng := &fakeEngine{result: &compose.Result{Components: []*compose.Component{cpt}}}
	ex, store := newTestExtractor(t, eng)

	gcid := asgen.GCID(compose.Gcid(cpt.ID, string(pkid)))
	if err := store.AddGeneratorResult(context.Background(), data.MetadataXML, otherPkid,
		data.GeneratorResult{Components: []data.ComponentMetadata{{GCID: gcid, Data: []byte("<component/>")}}}, false); err != nil {
		t.Fatalf("seed AddGeneratorResult: %v", err)
	}

	res, err := ex.ProcessPackage(context.Background(), pkid, pkg)
	if err != nil {
		t.Fatalf("ProcessPackage: %v", err)
	}
	if res.ComponentsCount() != 0 {
		t.Fatalf("expected the duplicate component to be dropped, got %d", res.ComponentsCount())
	}
	if !res.HasHint("org.example.foo", "metainfo-duplicate-id") {
		t.Fatal("expected a metainfo-duplicate-id hint")
	}
	gcids := res.ComponentGcids()
	if len(gcids) != 1 || gcids[0] != gcid {
		t.Fatalf("expected the known gcid to still be registered, got %v", gcids)
	}
}

func TestProcessPackageSynthesizesGStreamerCodecComponent(t *testing.T) {
	pkid := asgen.NewPkid("gst-plugin-foo", "1.0", "amd64")
	codec := &pkgmodel.Codec{GStreamerDecoders: []string{"mpegaudioparse"}}
	pkg := fakePackage(t, "gst-plugin-foo", "1.0", "amd64", pkgmodel.Regular, nil, map[string]string{"C": "MP3 decoder"}, codec)

	eng := &fakeEngine{result: &compose.Result{}}
	ex, _ := newTestExtractor(t, eng)
	ex.ProcessGStreamer = true

	res, err := ex.ProcessPackage(context.Background(), pkid, pkg)
	if err != nil {
		t.Fatalf("ProcessPackage: %v", err)
	}
	if res.ComponentsCount() != 1 {
		t.Fatalf("ComponentsCount = %d, want 1", res.ComponentsCount())
	}
	cpt := res.Components()[0]
	if cpt.Kind != compose.KindCodec || cpt.ID != "gst-plugin-foo" {
		t.Fatalf("unexpected synthesized component: %+v", cpt)
	}
}

func TestProcessPackageStripsFakePkgnameSentinel(t *testing.T) {
	pkid := asgen.NewPkid(pkgmodel.ExtraMetainfoFakePkgname, "1.0", "all")
	pkg := fakePackage(t, pkgmodel.ExtraMetainfoFakePkgname, "1.0", "all", pkgmodel.Fake, map[string]string{"C": "d"}, nil, nil)

	eng := &fakeEngine{result: &compose.Result{Components: []*compose.Component{
		{
			ID: "org.example.injected", Kind: compose.KindGeneric, Description: map[string]string{"C": "x"},
			PkgNames: []string{pkgmodel.ExtraMetainfoFakePkgname, "real-pkg"},
		},
	}}}
	ex, _ := newTestExtractor(t, eng)

	res, err := ex.ProcessPackage(context.Background(), pkid, pkg)
	if err != nil {
		t.Fatalf("ProcessPackage: %v", err)
	}
	cpt := res.Components()[0]
	if len(cpt.PkgNames) != 1 || cpt.PkgNames[0] != "real-pkg" {
		t.Fatalf("expected the fake sentinel stripped, got %+v", cpt.PkgNames)
	}
}

func TestProcessPackageRaisesNoInstallCandidate(t *testing.T) {
	pkid := asgen.NewPkid("foo", "1.0", "amd64")
	pkg := fakePackage(t, "foo", "1.0", "amd64", pkgmodel.Regular, map[string]string{"C": "d"}, nil, nil)

	eng := &fakeEngine{result: &compose.Result{Components: []*compose.Component{
		{ID: "org.example.generic", Kind: compose.KindGeneric, Description: map[string]string{"C": "x"}},
	}}}
	ex, _ := newTestExtractor(t, eng)

	res, err := ex.ProcessPackage(context.Background(), pkid, pkg)
	if err != nil {
		t.Fatalf("ProcessPackage: %v", err)
	}
	if !res.HasHint("org.example.generic", "no-install-candidate") {
		t.Fatal("expected a no-install-candidate hint")
	}
}

type stubMods struct {
	removed map[string]bool
	custom  map[string]map[string]string
}

func (s stubMods) IsRemoved(id string) bool { return s.removed[id] }
func (s stubMods) InjectedCustom(id string) (map[string]string, bool) {
	c, ok := s.custom[id]
	return c, ok
}

func TestProcessPackageAppliesModifications(t *testing.T) {
	pkid := asgen.NewPkid("foo", "1.0", "amd64")
	pkg := fakePackage(t, "foo", "1.0", "amd64", pkgmodel.Regular, map[string]string{"C": "d"}, nil, nil)

	eng := &fakeEngine{result: &compose.Result{Components: []*compose.Component{
		{ID: "org.example.removeme", Kind: compose.KindGeneric, Description: map[string]string{"C": "x"}, PkgNames: []string{"foo"}},
		{ID: "org.example.custom", Kind: compose.KindGeneric, Description: map[string]string{"C": "x"}, PkgNames: []string{"foo"}, Custom: map[string]string{}},
	}}}
	ex, _ := newTestExtractor(t, eng)
	ex.Mods = stubMods{
		removed: map[string]bool{"org.example.removeme": true},
		custom:  map[string]map[string]string{"org.example.custom": {"X-Featured": "true"}},
	}

	res, err := ex.ProcessPackage(context.Background(), pkid, pkg)
	if err != nil {
		t.Fatalf("ProcessPackage: %v", err)
	}
	if res.ComponentsCount() != 1 {
		t.Fatalf("ComponentsCount = %d, want 1 after removal", res.ComponentsCount())
	}
	cpt := res.Components()[0]
	if cpt.ID != "org.example.custom" || cpt.Custom["X-Featured"] != "true" {
		t.Fatalf("unexpected surviving component: %+v", cpt)
	}
}
