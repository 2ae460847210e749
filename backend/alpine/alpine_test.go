package alpine

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/asgen/asgen/backend"
)

func writeTarGz(t *testing.T, path string, members map[string]string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for name, content := range members {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
}

const gimpIndexFixture = `P:gimp
V:2.10.30-r1
A:x86_64
m:Natanael Copa <ncopa@alpinelinux.org>
T:GNU Image Manipulation Program
`

func TestLoadPackagesParsesIndexAndReadsOwnArchive(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "v3.19/main/x86_64")
	writeTarGz(t, filepath.Join(base, "APKINDEX.tar.gz"), map[string]string{"APKINDEX": gimpIndexFixture})
	writeTarGz(t, filepath.Join(base, "gimp-2.10.30-r1.apk"), map[string]string{
		"usr/bin/gimp":               "#!/bin/sh\n",
		"usr/share/doc/gimp/LICENSE": "GPL\n",
	})

	b := New(backend.ArchiveRoot{Root: root}, nil)
	pkgs, err := b.PackagesFor(context.Background(), "v3.19", "main", "x86_64", true)
	if err != nil {
		t.Fatalf("PackagesFor: %v", err)
	}
	if len(pkgs) != 1 {
		t.Fatalf("want 1 package, got %d", len(pkgs))
	}

	p := pkgs[0]
	if p.Name() != "gimp" || p.Version() != "2.10.30-r1" || p.Arch() != "x86_64" {
		t.Fatalf("unexpected identity: %s/%s/%s", p.Name(), p.Version(), p.Arch())
	}
	if p.Maintainer() != "Natanael Copa <ncopa@alpinelinux.org>" {
		t.Errorf("unexpected maintainer: %q", p.Maintainer())
	}
	if desc, ok := p.Description("C"); !ok || desc != "<p>GNU Image Manipulation Program</p>" {
		t.Errorf("unexpected description: %q (ok=%v)", desc, ok)
	}

	contents, err := p.Contents()
	if err != nil {
		t.Fatalf("Contents: %v", err)
	}
	if len(contents) != 2 {
		t.Fatalf("want 2 content entries, got %d: %v", len(contents), contents)
	}

	data, err := p.FileData("/usr/bin/gimp")
	if err != nil {
		t.Fatalf("FileData: %v", err)
	}
	if string(data) != "#!/bin/sh\n" {
		t.Errorf("unexpected file data: %q", data)
	}
}

func TestPackagesForMemoizes(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "v3.19/main/x86_64")
	writeTarGz(t, filepath.Join(base, "APKINDEX.tar.gz"), map[string]string{"APKINDEX": gimpIndexFixture})
	writeTarGz(t, filepath.Join(base, "gimp-2.10.30-r1.apk"), map[string]string{"usr/bin/gimp": "x"})

	b := New(backend.ArchiveRoot{Root: root}, nil)
	first, err := b.PackagesFor(context.Background(), "v3.19", "main", "x86_64", true)
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.PackagesFor(context.Background(), "v3.19", "main", "x86_64", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("want 1 package from each call, got %d and %d", len(first), len(second))
	}
	if first[0] != second[0] {
		t.Error("expected the memoized result to be returned on the second call")
	}

	b.Release()
	third, err := b.PackagesFor(context.Background(), "v3.19", "main", "x86_64", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(third) != 1 {
		t.Fatalf("want 1 package after Release, got %d", len(third))
	}
}

func TestMissingIndexReturnsNoPackages(t *testing.T) {
	b := New(backend.ArchiveRoot{Root: t.TempDir()}, nil)
	pkgs, err := b.PackagesFor(context.Background(), "v3.19", "main", "x86_64", true)
	if err != nil {
		t.Fatalf("PackagesFor: %v", err)
	}
	if len(pkgs) != 0 {
		t.Errorf("want 0 packages for a missing index, got %d", len(pkgs))
	}
}

func TestHasChangesAlwaysTrue(t *testing.T) {
	b := New(backend.ArchiveRoot{Root: t.TempDir()}, nil)
	changed, err := b.HasChanges(context.Background(), nil, "v3.19", "main", "x86_64")
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Error("HasChanges should always report true for the Alpine backend")
	}
}

func TestPackageForFileUnsupported(t *testing.T) {
	b := New(backend.ArchiveRoot{Root: t.TempDir()}, nil)
	_, err := b.PackageForFile(context.Background(), "/usr/bin/gimp", "v3.19", "main")
	if err != backend.ErrUnsupported {
		t.Errorf("want ErrUnsupported, got %v", err)
	}
}
