package result

import (
	"strings"
	"testing"

	"github.com/asgen/asgen"
	"github.com/asgen/asgen/extract/compose"
	"github.com/asgen/asgen/store/data"
)

func TestAddComponentMintsStableGcid(t *testing.T) {
	r := New(asgen.Pkid("foo/1.0/amd64"))
	cpt := &compose.Component{ID: "org.example.foo", Kind: compose.KindDesktopApp}
	gcid := r.AddComponent(cpt)
	if gcid == "" {
		t.Fatal("expected a non-empty gcid")
	}
	got, ok := r.GcidForComponent("org.example.foo")
	if !ok || got != gcid {
		t.Fatalf("GcidForComponent = %q, %v; want %q, true", got, ok, gcid)
	}
	if r.ComponentsCount() != 1 {
		t.Fatalf("ComponentsCount = %d, want 1", r.ComponentsCount())
	}
}

func TestAddComponentWithStringMintsDistinctGcids(t *testing.T) {
	r := New(asgen.Pkid("gst/1.0/amd64"))
	a := &compose.Component{ID: "codec-a", Kind: compose.KindCodec}
	b := &compose.Component{ID: "codec-b", Kind: compose.KindCodec}
	gcidA := r.AddComponentWithString(a, "audio/mpeg")
	gcidB := r.AddComponentWithString(b, "video/x-h264")
	if gcidA == gcidB {
		t.Fatal("expected distinct digest inputs to mint distinct gcids")
	}
}

func TestAddHintNonFatalKeepsComponent(t *testing.T) {
	r := New(asgen.Pkid("foo/1.0/amd64"))
	cpt := &compose.Component{ID: "org.example.foo"}
	r.AddComponent(cpt)
	survived := r.AddHint("org.example.foo", "description-missing", nil)
	if !survived {
		t.Fatal("expected a Warning-severity hint to leave the component intact")
	}
	if r.ComponentsCount() != 1 {
		t.Fatalf("ComponentsCount = %d, want 1", r.ComponentsCount())
	}
	if !r.HasHint("org.example.foo", "description-missing") {
		t.Fatal("expected HasHint to report the attached hint")
	}
}

func TestAddHintFatalRemovesComponent(t *testing.T) {
	r := New(asgen.Pkid("foo/1.0/amd64"))
	cpt := &compose.Component{ID: "org.example.foo"}
	r.AddComponent(cpt)
	survived := r.AddHint("org.example.foo", "metainfo-duplicate-id", map[string]any{"other_pkg": "bar"})
	if survived {
		t.Fatal("expected an Error-severity hint to report the component as not surviving")
	}
	if r.ComponentsCount() != 0 {
		t.Fatalf("ComponentsCount = %d, want 0 after a fatal hint", r.ComponentsCount())
	}
	if _, ok := r.GcidForComponent("org.example.foo"); ok {
		t.Fatal("expected GcidForComponent to forget a removed component")
	}
}

func TestAddHintEmptyComponentIDUsesGeneral(t *testing.T) {
	r := New(asgen.Pkid("foo/1.0/amd64"))
	r.AddHintMessage("", "internal-error", "something went wrong")
	if !r.HasHint(asgen.GeneralComponentID, "internal-error") {
		t.Fatal("expected the hint to be recorded under the general pseudo-id")
	}
	if r.HintsCount() != 1 {
		t.Fatalf("HintsCount = %d, want 1", r.HintsCount())
	}
}

func TestComponentGcidsPreservesInsertionOrder(t *testing.T) {
	r := New(asgen.Pkid("foo/1.0/amd64"))
	first := r.AddComponent(&compose.Component{ID: "a"})
	second := r.AddComponent(&compose.Component{ID: "b"})
	got := r.ComponentGcids()
	if len(got) != 2 || got[0] != first || got[1] != second {
		t.Fatalf("ComponentGcids = %v, want [%q %q]", got, first, second)
	}
}

func TestToGeneratorResultXML(t *testing.T) {
	r := New(asgen.Pkid("foo/1.0/amd64"))
	r.AddComponent(&compose.Component{
		ID:       "org.example.foo",
		Kind:     compose.KindDesktopApp,
		Name:     map[string]string{"C": "Foo"},
		Summary:  map[string]string{"C": "A foo app"},
		PkgNames: []string{"foo"},
	})
	r.AddHintMessage("org.example.foo", "icon-not-found", "no icon")

	gr, err := r.ToGeneratorResult(data.MetadataXML)
	if err != nil {
		t.Fatalf("ToGeneratorResult: %v", err)
	}
	if len(gr.Components) != 1 {
		t.Fatalf("expected 1 serialized component, got %d", len(gr.Components))
	}
	body := string(gr.Components[0].Data)
	if !strings.Contains(body, "<id>org.example.foo</id>") {
		t.Fatalf("expected serialized id element, got %s", body)
	}
	if !strings.Contains(body, "<name>Foo</name>") {
		t.Fatalf("expected serialized name element, got %s", body)
	}
	if len(gr.Hints) != 1 || gr.Hints[0].Tag != "icon-not-found" {
		t.Fatalf("unexpected hints: %+v", gr.Hints)
	}
}

func TestToGeneratorResultYAML(t *testing.T) {
	r := New(asgen.Pkid("bar/1.0/amd64"))
	r.AddComponent(&compose.Component{
		ID:      "org.example.bar",
		Kind:    compose.KindConsoleApp,
		Name:    map[string]string{"C": "Bar"},
		Summary: map[string]string{"C": "A bar tool"},
	})

	gr, err := r.ToGeneratorResult(data.MetadataYAML)
	if err != nil {
		t.Fatalf("ToGeneratorResult: %v", err)
	}
	if len(gr.Components) != 1 {
		t.Fatalf("expected 1 serialized component, got %d", len(gr.Components))
	}
	body := string(gr.Components[0].Data)
	if !strings.Contains(body, "ID: org.example.bar") {
		t.Fatalf("expected serialized ID field, got %s", body)
	}
}

func TestToGeneratorResultOmitsRemovedComponents(t *testing.T) {
	r := New(asgen.Pkid("foo/1.0/amd64"))
	r.AddComponent(&compose.Component{ID: "org.example.foo", Name: map[string]string{"C": "Foo"}})
	r.AddHint("org.example.foo", "metainfo-duplicate-id", nil)

	gr, err := r.ToGeneratorResult(data.MetadataXML)
	if err != nil {
		t.Fatalf("ToGeneratorResult: %v", err)
	}
	if len(gr.Components) != 0 {
		t.Fatalf("expected no surviving components, got %d", len(gr.Components))
	}
	if len(gr.Hints) != 1 {
		t.Fatalf("expected the hint to still be reported, got %+v", gr.Hints)
	}
}
