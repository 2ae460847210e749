package icon

import "fmt"

// Size is an icon's target (width, height, scale) triple, as parsed from
// configuration keys like "64x64" or "64x64@2".
type Size struct {
	Width, Height, Scale int
}

// String renders the size back to its config-key form.
func (s Size) String() string {
	if s.Scale <= 1 {
		return fmt.Sprintf("%dx%d", s.Width, s.Height)
	}
	return fmt.Sprintf("%dx%d@%d", s.Width, s.Height, s.Scale)
}

// DefaultSize is the mandatory 64x64@1 target spec §4.7 requires every
// configuration to resolve to something other than Ignored/RemoteOnly.
var DefaultSize = Size{Width: 64, Height: 64, Scale: 1}

// Policy controls how a given Size is satisfied.
type Policy int

const (
	// Ignored skips this size entirely.
	Ignored Policy = iota
	// CachedOnly writes only a "cached" reference to the rendered PNG.
	CachedOnly
	// RemoteOnly writes only a "remote" icon reference, without
	// rendering or storing a local PNG.
	RemoteOnly
	// CachedAndRemote writes both a cached PNG and a remote reference.
	CachedAndRemote
)

// PolicyConfig maps each configured size to its policy.
type PolicyConfig map[Size]Policy

// Validate enforces spec §4.7's "the default size is mandatory and must
// resolve to something other than Ignored/RemoteOnly" rule.
func (c PolicyConfig) Validate() error {
	p, ok := c[DefaultSize]
	if !ok {
		return nil // absent defaults to CachedOnly at resolution time
	}
	if p == Ignored || p == RemoteOnly {
		return fmt.Errorf("icon: default size %s must not be Ignored or RemoteOnly", DefaultSize)
	}
	return nil
}

// PolicyFor returns the configured policy for size, defaulting to
// CachedOnly when the size isn't explicitly configured (matching the
// "cached" icon reference always being written" baseline behavior).
func (c PolicyConfig) PolicyFor(size Size) Policy {
	if p, ok := c[size]; ok {
		return p
	}
	return CachedOnly
}

// sizesDescendingBySize returns cfg's non-Ignored sizes ordered from
// largest to smallest pixel dimension, used by downscale search.
func (c PolicyConfig) sizesDescendingBySize() []Size {
	var out []Size
	for s, p := range c {
		if p != Ignored {
			out = append(out, s)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Width*out[j].Height > out[j-1].Width*out[j-1].Height; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
