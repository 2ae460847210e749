package icon

import "testing"

func TestSizeString(t *testing.T) {
	if got := (Size{Width: 64, Height: 64, Scale: 1}).String(); got != "64x64" {
		t.Fatalf("String() = %q", got)
	}
	if got := (Size{Width: 64, Height: 64, Scale: 2}).String(); got != "64x64@2" {
		t.Fatalf("String() = %q", got)
	}
}

func TestPolicyConfigValidateRejectsIgnoredDefault(t *testing.T) {
	cfg := PolicyConfig{DefaultSize: Ignored}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for Ignored default size")
	}
	cfg = PolicyConfig{DefaultSize: RemoteOnly}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for RemoteOnly default size")
	}
}

func TestPolicyConfigValidateAcceptsMissingOrCached(t *testing.T) {
	if err := (PolicyConfig{}).Validate(); err != nil {
		t.Fatalf("expected absent default size to be valid, got %v", err)
	}
	cfg := PolicyConfig{DefaultSize: CachedAndRemote}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected CachedAndRemote default size to be valid, got %v", err)
	}
}

func TestPolicyConfigPolicyForDefaultsToCachedOnly(t *testing.T) {
	cfg := PolicyConfig{}
	if got := cfg.PolicyFor(DefaultSize); got != CachedOnly {
		t.Fatalf("PolicyFor unconfigured size = %v, want CachedOnly", got)
	}
	cfg[DefaultSize] = RemoteOnly
	if got := cfg.PolicyFor(DefaultSize); got != RemoteOnly {
		t.Fatalf("PolicyFor configured size = %v, want RemoteOnly", got)
	}
}

func TestSizesDescendingBySize(t *testing.T) {
	small := Size{Width: 32, Height: 32, Scale: 1}
	medium := DefaultSize
	large := Size{Width: 128, Height: 128, Scale: 1}
	cfg := PolicyConfig{
		small:  CachedOnly,
		medium: CachedOnly,
		large:  CachedOnly,
	}
	cfg[Size{Width: 16, Height: 16, Scale: 1}] = Ignored

	ordered := cfg.sizesDescendingBySize()
	if len(ordered) != 3 {
		t.Fatalf("expected Ignored size excluded, got %d sizes: %+v", len(ordered), ordered)
	}
	if ordered[0] != large || ordered[1] != medium || ordered[2] != small {
		t.Fatalf("expected descending order [large, medium, small], got %+v", ordered)
	}
}
