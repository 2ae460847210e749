package rpmmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/asgen/asgen/backend"
)

const repomdFixture = `<?xml version="1.0" encoding="UTF-8"?>
<repomd xmlns="http://linux.duke.edu/metadata/repo">
  <data type="primary">
    <location href="repodata/primary.xml"/>
  </data>
  <data type="filelists">
    <location href="repodata/filelists.xml"/>
  </data>
</repomd>
`

const primaryFixture = `<?xml version="1.0" encoding="UTF-8"?>
<metadata xmlns="http://linux.duke.edu/metadata/common" packages="1">
  <package type="rpm">
    <name>gimp</name>
    <arch>x86_64</arch>
    <version epoch="0" ver="2.10.30" rel="1.fc38"/>
    <checksum type="sha256" pkgid="YES">abc123</checksum>
    <summary>an image editor</summary>
    <description>GIMP is an image editor.</description>
    <packager>Fedora Project</packager>
    <location href="Packages/g/gimp-2.10.30-1.fc38.x86_64.rpm"/>
  </package>
</metadata>
`

const filelistsFixture = `<?xml version="1.0" encoding="UTF-8"?>
<filelists xmlns="http://linux.duke.edu/metadata/filelists" packages="1">
  <package pkgid="abc123" name="gimp" arch="x86_64">
    <version epoch="0" ver="2.10.30" rel="1.fc38"/>
    <file>/usr/bin/gimp</file>
    <file>/usr/share/applications/gimp.desktop</file>
  </package>
</filelists>
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestPackagesForJoinsPrimaryAndFilelistsByPkgid(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "fedora38/Everything/x86_64/os")
	writeFile(t, filepath.Join(base, "repodata/repomd.xml"), repomdFixture)
	writeFile(t, filepath.Join(base, "repodata/primary.xml"), primaryFixture)
	writeFile(t, filepath.Join(base, "repodata/filelists.xml"), filelistsFixture)

	b := New(backend.ArchiveRoot{Root: root}, nil)
	pkgs, err := b.PackagesFor(context.Background(), "fedora38", "Everything", "x86_64", true)
	if err != nil {
		t.Fatalf("PackagesFor: %v", err)
	}
	if len(pkgs) != 1 {
		t.Fatalf("want 1 package, got %d", len(pkgs))
	}

	p := pkgs[0]
	if p.Name() != "gimp" || p.Version() != "2.10.30-1.fc38" || p.Arch() != "x86_64" {
		t.Fatalf("unexpected identity: %s/%s/%s", p.Name(), p.Version(), p.Arch())
	}
	if summary, ok := p.Summary("C"); !ok || summary != "an image editor" {
		t.Errorf("unexpected summary: %q (ok=%v)", summary, ok)
	}
	contents, err := p.Contents()
	if err != nil {
		t.Fatalf("Contents: %v", err)
	}
	if len(contents) != 2 {
		t.Fatalf("want 2 content entries, got %d: %v", len(contents), contents)
	}
}

func TestFormatRPMVersionDropsZeroEpoch(t *testing.T) {
	cases := []struct{ epoch, ver, rel, want string }{
		{"", "1.0", "1", "1.0-1"},
		{"0", "1.0", "1", "1.0-1"},
		{"2", "1.0", "1", "2:1.0-1"},
	}
	for _, c := range cases {
		if got := formatRPMVersion(c.epoch, c.ver, c.rel); got != c.want {
			t.Errorf("formatRPMVersion(%q,%q,%q) = %q, want %q", c.epoch, c.ver, c.rel, got, c.want)
		}
	}
}

func TestHasChangesAlwaysTrue(t *testing.T) {
	b := New(backend.ArchiveRoot{Root: t.TempDir()}, nil)
	changed, err := b.HasChanges(context.Background(), nil, "fedora38", "Everything", "x86_64")
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Error("HasChanges should always report true for the rpmmd backend")
	}
}
