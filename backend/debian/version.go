package debian

import version "github.com/knqyf263/go-deb-version"

// compareVersions implements the dpkg version ordering (epoch, upstream,
// debian-revision) by delegating to go-deb-version rather than reimplementing
// the algorithm. It returns a negative number, zero, or a positive number as
// a < b, a == b, or a > b, mirroring strcmp-style comparators used elsewhere
// in the generator.
//
// Versions that fail to parse sort as equal to everything, since dpkg itself
// never produces a version go-deb-version can't parse; a parse failure here
// means upstream metadata is malformed, not that ordering matters.
func compareVersions(a, b string) int {
	va, errA := version.NewVersion(a)
	vb, errB := version.NewVersion(b)
	if errA != nil || errB != nil {
		return 0
	}
	switch {
	case va.LessThan(vb):
		return -1
	case vb.LessThan(va):
		return 1
	default:
		return 0
	}
}
