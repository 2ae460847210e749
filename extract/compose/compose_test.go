package compose

import (
	"context"
	"testing"
)

func unitFromFiles(id string, files map[string][]byte) Unit {
	return Unit{
		ID: id,
		ListFiles: func() ([]string, error) {
			var paths []string
			for p := range files {
				paths = append(paths, p)
			}
			return paths, nil
		},
		ReadFile: func(p string) ([]byte, error) { return files[p], nil },
	}
}

func TestRunParsesDesktopEntry(t *testing.T) {
	files := map[string][]byte{
		"/usr/share/applications/foo.desktop": []byte(`[Desktop Entry]
Type=Application
Name=Foo
Comment=A foo app
Icon=foo-icon
`),
	}
	e := NewDefaultEngine()
	e.SetFlags(Flags{DesktopEntries: true})
	res, err := e.Run(context.Background(), unitFromFiles("foo/1.0/amd64", files))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Components) != 1 {
		t.Fatalf("expected 1 component, got %d (%+v)", len(res.Components), res.Components)
	}
	cpt := res.Components[0]
	if cpt.ID != "foo.desktop" || cpt.Kind != KindDesktopApp {
		t.Fatalf("unexpected component: %+v", cpt)
	}
	if cpt.Name["C"] != "Foo" || cpt.Summary["C"] != "A foo app" {
		t.Fatalf("unexpected name/summary: %+v", cpt)
	}
	if len(cpt.Icons) != 1 || cpt.Icons[0].Name != "foo-icon" {
		t.Fatalf("expected a stock icon reference, got %+v", cpt.Icons)
	}
	if cpt.Gcid == "" {
		t.Fatal("expected a minted gcid")
	}
}

func TestRunSkipsNoDisplayDesktopEntries(t *testing.T) {
	files := map[string][]byte{
		"/usr/share/applications/hidden.desktop": []byte(`[Desktop Entry]
Type=Application
Name=Hidden
NoDisplay=true
`),
	}
	e := NewDefaultEngine()
	e.SetFlags(Flags{DesktopEntries: true})
	res, err := e.Run(context.Background(), unitFromFiles("hidden/1.0/amd64", files))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Components) != 0 {
		t.Fatalf("expected NoDisplay entry to be skipped, got %+v", res.Components)
	}
}

func TestRunParsesMetainfoXML(t *testing.T) {
	files := map[string][]byte{
		"/usr/share/metainfo/org.example.bar.metainfo.xml": []byte(`<?xml version="1.0"?>
<component type="desktop-application">
  <id>org.example.bar</id>
  <name>Bar</name>
  <summary>Bar summary</summary>
  <description><p>Long description</p></description>
  <icon type="stock">bar</icon>
  <pkgname>bar-pkg</pkgname>
</component>
`),
	}
	e := NewDefaultEngine()
	res, err := e.Run(context.Background(), unitFromFiles("bar/1.0/amd64", files))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Components) != 1 {
		t.Fatalf("expected 1 component, got %d", len(res.Components))
	}
	cpt := res.Components[0]
	if cpt.ID != "org.example.bar" || cpt.Kind != KindDesktopApp {
		t.Fatalf("unexpected component: %+v", cpt)
	}
	if cpt.Name["C"] != "Bar" || cpt.Summary["C"] != "Bar summary" {
		t.Fatalf("unexpected name/summary: %+v", cpt)
	}
	if len(cpt.PkgNames) != 1 || cpt.PkgNames[0] != "bar-pkg" {
		t.Fatalf("unexpected pkgnames: %+v", cpt.PkgNames)
	}
}

func TestRunHonorsIntermediateCheckDrop(t *testing.T) {
	files := map[string][]byte{
		"/usr/share/metainfo/org.example.baz.metainfo.xml": []byte(`<component type="generic">
  <id>org.example.baz</id>
  <name>Baz</name>
</component>
`),
	}
	e := NewDefaultEngine()
	e.SetIntermediateCheck(func(gcid string, cpt *Component) bool { return false })
	res, err := e.Run(context.Background(), unitFromFiles("baz/1.0/amd64", files))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Components) != 0 {
		t.Fatalf("expected intermediate check to drop the component, got %+v", res.Components)
	}
}

func TestFinalizeDropsInvalidWhenValidateEnabled(t *testing.T) {
	e := NewDefaultEngine()
	e.SetFlags(Flags{Validate: true})
	res := &Result{Components: []*Component{{ID: ""}, {ID: "ok"}}}
	if err := e.Finalize(context.Background(), res); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(res.Components) != 1 || res.Components[0].ID != "ok" {
		t.Fatalf("expected only the valid component to survive, got %+v", res.Components)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected a warning recorded for the dropped component, got %+v", res.Warnings)
	}
}

func TestGcidIsStableForSameInputs(t *testing.T) {
	a := Gcid("org.example.foo", "foo/1.0/amd64")
	b := Gcid("org.example.foo", "foo/1.0/amd64")
	c := Gcid("org.example.foo", "foo/1.1/amd64")
	if a != b {
		t.Fatal("expected identical inputs to mint identical gcids")
	}
	if a == c {
		t.Fatal("expected different digest inputs to mint different gcids")
	}
}
