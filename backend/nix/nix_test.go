package nix

import (
	"context"
	"testing"

	"github.com/asgen/asgen/backend"
)

func TestPackagesForWithoutNixBinaryReturnsNoPackages(t *testing.T) {
	b := New("daemon", t.TempDir())
	b.nixExe = ""

	pkgs, err := b.PackagesFor(context.Background(), "nixpkgs", "legacyPackages.x86_64-linux", "x86_64-linux", true)
	if err != nil {
		t.Fatalf("PackagesFor: %v", err)
	}
	if len(pkgs) != 0 {
		t.Errorf("want 0 packages without a nix binary, got %d", len(pkgs))
	}
}

func TestHasChangesAlwaysTrue(t *testing.T) {
	b := New("daemon", t.TempDir())
	changed, err := b.HasChanges(context.Background(), nil, "nixpkgs", "legacyPackages.x86_64-linux", "x86_64-linux")
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Error("HasChanges should always report true for the nix backend")
	}
}

func TestPackageForFileUnsupported(t *testing.T) {
	b := New("daemon", t.TempDir())
	_, err := b.PackageForFile(context.Background(), "/usr/bin/gimp", "nixpkgs", "legacyPackages.x86_64-linux")
	if err != backend.ErrUnsupported {
		t.Errorf("want ErrUnsupported, got %v", err)
	}
}

func TestKind(t *testing.T) {
	b := New("daemon", t.TempDir())
	if b.Kind() != backend.KindNix {
		t.Errorf("unexpected kind: %v", b.Kind())
	}
}
