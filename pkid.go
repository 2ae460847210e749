package asgen

import (
	"fmt"
	"strings"
)

// Pkid is a package identifier: name/version/arch. It is stable across runs
// and is the key used for every per-package record in the content and data
// stores.
type Pkid string

// NewPkid builds a Pkid from its three parts.
func NewPkid(name, version, arch string) Pkid {
	return Pkid(name + "/" + version + "/" + arch)
}

// Parse splits a Pkid back into name, version, arch. It returns an error if
// the value doesn't have exactly three slash-separated, non-empty parts.
func (p Pkid) Parse() (name, version, arch string, err error) {
	parts := strings.Split(string(p), "/")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("asgen: malformed pkid %q", string(p))
	}
	name, version, arch = parts[0], parts[1], parts[2]
	if name == "" || version == "" || arch == "" {
		return "", "", "", fmt.Errorf("asgen: malformed pkid %q", string(p))
	}
	return name, version, arch, nil
}

// Valid reports whether p has all three identity parts populated.
func (p Pkid) Valid() bool {
	_, _, _, err := p.Parse()
	return err == nil
}

func (p Pkid) String() string { return string(p) }

// GCID is the global component id minted by the compose library. It is
// treated as opaque everywhere except when deriving a media pool path, where
// the whole string is used verbatim as the directory name:
// "pool/<gcid>/...".
type GCID string

func (g GCID) String() string { return string(g) }

// RepoKey identifies a single (suite, section, arch) repository for the
// purposes of the data store's mtime bookkeeping: "suite-section-arch".
type RepoKey string

// NewRepoKey builds the canonical repository key for a suite/section/arch
// triple.
func NewRepoKey(suite, section, arch string) RepoKey {
	return RepoKey(suite + "-" + section + "-" + arch)
}
