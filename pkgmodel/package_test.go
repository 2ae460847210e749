package pkgmodel

import "testing"

func TestValidRequiresAllIdentityFields(t *testing.T) {
	cases := []struct {
		name, version, arch string
		want                bool
	}{
		{"gimp", "2.10", "amd64", true},
		{"", "2.10", "amd64", false},
		{"gimp", "", "amd64", false},
		{"gimp", "2.10", "", false},
	}
	for _, c := range cases {
		p := New(c.name, c.version, c.arch, nil, nil, nil)
		if got := p.Valid(); got != c.want {
			t.Errorf("New(%q,%q,%q).Valid() = %v, want %v", c.name, c.version, c.arch, got, c.want)
		}
	}
}

func TestContentsMemoized(t *testing.T) {
	var calls int
	p := New("gimp", "2.10", "amd64", func() ([]string, error) {
		calls++
		return []string{"/usr/bin/gimp"}, nil
	}, nil, nil)

	for i := 0; i < 3; i++ {
		if _, err := p.Contents(); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 1 {
		t.Errorf("contentsFn called %d times, want 1", calls)
	}
}

func TestFinishIsIdempotent(t *testing.T) {
	var calls int
	p := New("gimp", "2.10", "amd64", nil, nil, func() error {
		calls++
		return nil
	})
	for i := 0; i < 3; i++ {
		if err := p.Finish(); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 1 {
		t.Errorf("finishFn called %d times, want 1", calls)
	}
}

func TestFakePackageSentinel(t *testing.T) {
	p := NewFake("1", "all", nil, nil, nil)
	if p.Name() != ExtraMetainfoFakePkgname {
		t.Errorf("Name() = %q, want %q", p.Name(), ExtraMetainfoFakePkgname)
	}
	if p.Kind() != Fake {
		t.Errorf("Kind() = %v, want Fake", p.Kind())
	}
}

func TestSharedLocaleMapsAreByReference(t *testing.T) {
	shared := map[string]string{"en": "A fine image editor"}
	a := New("gimp", "2.10", "amd64", nil, nil, nil).WithSummaryMap(shared)
	b := New("gimp", "2.10", "arm64", nil, nil, nil).WithSummaryMap(shared)

	shared["en"] = "updated"
	got, _ := a.Summary("en")
	if got != "updated" {
		t.Errorf("package a did not observe shared-map update: %q", got)
	}
	got, _ = b.Summary("en")
	if got != "updated" {
		t.Errorf("package b did not observe shared-map update: %q", got)
	}
}
