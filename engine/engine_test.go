package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/asgen/asgen"
	"github.com/asgen/asgen/backend"
	"github.com/asgen/asgen/pkgmodel"
	"github.com/asgen/asgen/store/contents"
	"github.com/asgen/asgen/store/data"
)

const exampleMetainfo = `<?xml version="1.0" encoding="UTF-8"?>
<component type="desktop-application">
  <id>org.example.App</id>
  <name>Example App</name>
  <summary>An example application</summary>
</component>
`

// testBackend hands back a fixed package list and supports PackageForFile
// lookups by path, unlike backend/dummy which always reports
// ErrUnsupported and never carries real file contents.
type testBackend struct {
	pkgs []pkgmodel.Package
}

var _ backend.Backend = (*testBackend)(nil)

func (b *testBackend) Kind() backend.Kind { return backend.KindDummy }
func (b *testBackend) Release()           {}

func (b *testBackend) PackagesFor(ctx context.Context, suite, section, arch string, withLongDescs bool) ([]pkgmodel.Package, error) {
	return b.pkgs, nil
}

func (b *testBackend) PackageForFile(ctx context.Context, path, suite, section string) (pkgmodel.Package, error) {
	for _, p := range b.pkgs {
		paths, _ := p.Contents()
		for _, cp := range paths {
			if cp == path {
				return p, nil
			}
		}
	}
	return nil, backend.ErrUnsupported
}

func (b *testBackend) HasChanges(ctx context.Context, store backend.RepoMtimeStore, suite, section, arch string) (bool, error) {
	return true, nil
}

func newAppPackage(name, version, arch string) pkgmodel.Package {
	path := "/usr/share/metainfo/org.example.App.metainfo.xml"
	return pkgmodel.New(name, version, arch, func() ([]string, error) {
		return []string{path}, nil
	}, func(p string) ([]byte, error) {
		if p != path {
			return nil, os.ErrNotExist
		}
		return []byte(exampleMetainfo), nil
	}, nil)
}

func newTestEngine(t *testing.T, b backend.Backend, suites []*asgen.Suite) (*Engine, *data.Store, *contents.Store) {
	t.Helper()
	dataStore, err := data.Open(filepath.Join(t.TempDir(), "data.db"))
	if err != nil {
		t.Fatalf("open data store: %v", err)
	}
	t.Cleanup(func() { dataStore.Close() })

	contentsStore, err := contents.Open(filepath.Join(t.TempDir(), "contents.db"))
	if err != nil {
		t.Fatalf("open contents store: %v", err)
	}
	t.Cleanup(func() { contentsStore.Close() })

	exportDir := t.TempDir()
	e, err := New(&Options{
		Backend:        b,
		ContentsStore:  contentsStore,
		DataStore:      dataStore,
		Suites:         suites,
		DataExportDir:  filepath.Join(exportDir, "data"),
		MediaExportDir: filepath.Join(exportDir, "media"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, dataStore, contentsStore
}

func testSuite() *asgen.Suite {
	return &asgen.Suite{
		Name:          "stable",
		DataPriority:  0,
		Sections:      []string{"main"},
		Architectures: []string{"amd64"},
	}
}

func TestRunSeedsAndExtracts(t *testing.T) {
	pkg := newAppPackage("exampleapp", "1.0", "amd64")
	b := &testBackend{pkgs: []pkgmodel.Package{pkg}}
	suite := testSuite()
	e, dataStore, _ := newTestEngine(t, b, []*asgen.Suite{suite})

	stats, err := e.Run(context.Background(), "", "", false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.PackagesSeeded != 1 {
		t.Errorf("want 1 seeded package, got %d", stats.PackagesSeeded)
	}
	if stats.PackagesExtracted != 1 {
		t.Errorf("want 1 extracted package, got %d", stats.PackagesExtracted)
	}
	if stats.ComponentsWritten != 1 {
		t.Errorf("want 1 component written, got %d", stats.ComponentsWritten)
	}

	pkid := asgen.NewPkid("exampleapp", "1.0", "amd64")
	gcids, err := dataStore.GetGCIDsForPackage(pkid)
	if err != nil {
		t.Fatalf("GetGCIDsForPackage: %v", err)
	}
	if len(gcids) != 1 {
		t.Fatalf("want 1 gcid recorded, got %d", len(gcids))
	}
	frag, found, err := dataStore.GetMetadata(data.MetadataXML, gcids[0])
	if err != nil || !found {
		t.Fatalf("GetMetadata: found=%v err=%v", found, err)
	}
	if !bytes.Contains(frag, []byte("org.example.App")) {
		t.Errorf("expected stored fragment to reference component id, got %q", frag)
	}
}

func TestRunSkipsUnchangedPackageOnSecondRun(t *testing.T) {
	pkg := newAppPackage("exampleapp", "1.0", "amd64")
	b := &testBackend{pkgs: []pkgmodel.Package{pkg}}
	suite := testSuite()
	e, _, _ := newTestEngine(t, b, []*asgen.Suite{suite})

	ctx := context.Background()
	if _, err := e.Run(ctx, "", "", false); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	stats, err := e.Run(ctx, "", "", false)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if stats.PackagesExtracted != 0 {
		t.Errorf("want second run to skip already-processed package, got %d extracted", stats.PackagesExtracted)
	}
}

func TestForgetAndInfoRoundTrip(t *testing.T) {
	pkg := newAppPackage("exampleapp", "1.0", "amd64")
	b := &testBackend{pkgs: []pkgmodel.Package{pkg}}
	suite := testSuite()
	e, _, _ := newTestEngine(t, b, []*asgen.Suite{suite})
	ctx := context.Background()

	if _, err := e.Run(ctx, "", "", false); err != nil {
		t.Fatalf("Run: %v", err)
	}

	info, err := e.Info("exampleapp/1.0/amd64")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if len(info.GCIDs) != 1 {
		t.Fatalf("want 1 gcid, got %d", len(info.GCIDs))
	}

	if _, err := e.Info("exampleapp"); err == nil {
		t.Error("want error for a non-triple pkid argument")
	}

	n, err := e.Forget(ctx, "exampleapp/1.0/amd64")
	if err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if n != 1 {
		t.Fatalf("want 1 forgotten package, got %d", n)
	}

	info, err = e.Info("exampleapp/1.0/amd64")
	if err != nil {
		t.Fatalf("Info after forget: %v", err)
	}
	if len(info.GCIDs) != 0 {
		t.Errorf("want no gcids after forget, got %v", info.GCIDs)
	}
}

func TestRemoveFoundForcesReprocessing(t *testing.T) {
	pkg := newAppPackage("exampleapp", "1.0", "amd64")
	b := &testBackend{pkgs: []pkgmodel.Package{pkg}}
	suite := testSuite()
	e, _, _ := newTestEngine(t, b, []*asgen.Suite{suite})
	ctx := context.Background()

	if _, err := e.Run(ctx, "", "", false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	n, err := e.RemoveFound(ctx, "stable")
	if err != nil {
		t.Fatalf("RemoveFound: %v", err)
	}
	if n != 1 {
		t.Fatalf("want 1 removed package, got %d", n)
	}

	stats, err := e.Run(ctx, "", "", false)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if stats.PackagesExtracted != 1 {
		t.Errorf("want reprocessing after remove-found, got %d extracted", stats.PackagesExtracted)
	}
}

func TestPublishWritesCompressedCatalog(t *testing.T) {
	pkg := newAppPackage("exampleapp", "1.0", "amd64")
	b := &testBackend{pkgs: []pkgmodel.Package{pkg}}
	suite := testSuite()
	e, _, _ := newTestEngine(t, b, []*asgen.Suite{suite})
	ctx := context.Background()

	if _, err := e.Run(ctx, "", "", false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := e.Publish(ctx, "", ""); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	gzPath := filepath.Join(e.DataExportDir, "stable", "main", "Components-amd64.xml.gz")
	if _, err := os.Stat(gzPath); err != nil {
		t.Errorf("expected catalog file at %s: %v", gzPath, err)
	}
	xzPath := filepath.Join(e.DataExportDir, "stable", "main", "Components-amd64.xml.xz")
	if _, err := os.Stat(xzPath); err != nil {
		t.Errorf("expected catalog file at %s: %v", xzPath, err)
	}
}

func TestCleanupSweepsOrphanedMetadata(t *testing.T) {
	pkg := newAppPackage("exampleapp", "1.0", "amd64")
	b := &testBackend{pkgs: []pkgmodel.Package{pkg}}
	suite := testSuite()
	e, dataStore, _ := newTestEngine(t, b, []*asgen.Suite{suite})
	ctx := context.Background()

	if _, err := e.Run(ctx, "", "", false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	pkid := asgen.NewPkid("exampleapp", "1.0", "amd64")
	gcids, err := dataStore.GetGCIDsForPackage(pkid)
	if err != nil || len(gcids) != 1 {
		t.Fatalf("GetGCIDsForPackage: %v %v", gcids, err)
	}

	if err := dataStore.RemovePackage(pkid); err != nil {
		t.Fatalf("RemovePackage: %v", err)
	}
	if err := e.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	if _, found, err := dataStore.GetMetadata(data.MetadataXML, gcids[0]); err != nil || found {
		t.Errorf("expected metadata to be swept after Cleanup, found=%v err=%v", found, err)
	}
}
