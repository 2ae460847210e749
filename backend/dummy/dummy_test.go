package dummy

import (
	"context"
	"testing"

	"github.com/asgen/asgen/backend"
)

func testSpecs() []Spec {
	return []Spec{
		{Name: "testpkg1", Version: "1.0.0", Arch: "amd64", Maintainer: "Test Maintainer <test@example.com>", Filename: "testpkg1_1.0.0_amd64.deb"},
		{Name: "testpkg2", Version: "2.0.0", Arch: "amd64", Maintainer: "Another Maintainer <another@example.com>", Filename: "testpkg2_2.0.0_amd64.deb"},
		{Name: "testpkg3", Version: "1.5.0", Arch: "riscv64", Maintainer: "Test Maintainer <test@example.com>", Filename: "testpkg3_1.5.0_riscv64.deb"},
	}
}

func TestPackagesForFiltersByArch(t *testing.T) {
	b := New(testSpecs())
	ctx := context.Background()

	pkgs, err := b.PackagesFor(ctx, "dummy", "main", "amd64", true)
	if err != nil {
		t.Fatalf("PackagesFor: %v", err)
	}
	if len(pkgs) != 2 {
		t.Fatalf("want 2 amd64 packages, got %d", len(pkgs))
	}
	for _, p := range pkgs {
		if p.Arch() != "amd64" {
			t.Errorf("unexpected arch in filtered results: %s", p.Arch())
		}
	}
}

func TestPackagesForNoArchFilterReturnsAll(t *testing.T) {
	b := New(testSpecs())
	pkgs, err := b.PackagesFor(context.Background(), "dummy", "main", "", true)
	if err != nil {
		t.Fatalf("PackagesFor: %v", err)
	}
	if len(pkgs) != 3 {
		t.Fatalf("want 3 packages, got %d", len(pkgs))
	}
}

func TestPackageFieldsRoundTrip(t *testing.T) {
	b := New([]Spec{{
		Name: "gcidpkg", Version: "1.0", Arch: "amd64",
		Maintainer:  "Test Maintainer <test@example.org>",
		Description: "A test package for GCID operations",
	}})
	pkgs, err := b.PackagesFor(context.Background(), "dummy", "main", "amd64", true)
	if err != nil {
		t.Fatalf("PackagesFor: %v", err)
	}
	if len(pkgs) != 1 {
		t.Fatalf("want 1 package, got %d", len(pkgs))
	}
	p := pkgs[0]
	if p.Name() != "gcidpkg" || p.Version() != "1.0" || p.Arch() != "amd64" {
		t.Errorf("unexpected identity: %s/%s/%s", p.Name(), p.Version(), p.Arch())
	}
	if p.Maintainer() != "Test Maintainer <test@example.org>" {
		t.Errorf("unexpected maintainer: %s", p.Maintainer())
	}
	if desc, ok := p.Description("C"); !ok || desc != "A test package for GCID operations" {
		t.Errorf("unexpected description: %q, %v", desc, ok)
	}
}

func TestPackageForFileUnsupported(t *testing.T) {
	b := New(testSpecs())
	if _, err := b.PackageForFile(context.Background(), "/usr/bin/foo", "dummy", "main"); err != backend.ErrUnsupported {
		t.Errorf("want ErrUnsupported, got %v", err)
	}
}

func TestHasChangesAlwaysTrue(t *testing.T) {
	b := New(nil)
	changed, err := b.HasChanges(context.Background(), nil, "dummy", "main", "amd64")
	if err != nil || !changed {
		t.Errorf("want (true, nil), got (%v, %v)", changed, err)
	}
}

func TestKind(t *testing.T) {
	b := New(nil)
	if b.Kind() != backend.KindDummy {
		t.Errorf("unexpected kind: %v", b.Kind())
	}
}
