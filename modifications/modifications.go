// Package modifications implements the repository-owner modifications
// loader (spec §4.10, C10): a per-suite "modifications.json" file letting
// a repository owner remove specific components outright or inject
// custom metadata fields into ones asgen would otherwise generate
// unmodified.
//
// Grounded on original_source/src/cptmodifiers.cpp's InjectedModifications
// class, which this package's Store mirrors minus the AppStream-specific
// removal-request bookkeeping (addRemovalRequestsToResult) spec §4.10
// doesn't call out; the public surface (isComponentRemoved,
// injectedCustomData, loadForSuite) maps directly onto Store's methods.
package modifications

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// document is the on-disk shape of modifications.json: an ordered list
// of component ids to drop, and a map of component id to the custom
// key/value pairs to merge into it.
type document struct {
	Remove       []string                     `json:"Remove"`
	InjectCustom map[string]map[string]string `json:"InjectCustom"`
}

// Store holds one suite's loaded modifications. The zero value is a
// valid, empty Store (no suite configured any modifications).
// Loaded once per suite and read concurrently by every extraction
// worker, so all access goes through mu.
type Store struct {
	mu       sync.RWMutex
	removed  map[string]bool
	custom   map[string]map[string]string
	loaded   bool
	sourceFn string // modifications.json path actually loaded, for diagnostics
}

// New returns an empty Store.
func New() *Store {
	return &Store{removed: map[string]bool{}, custom: map[string]map[string]string{}}
}

// LoadForSuite reads "<extraMetainfoDir>/<suiteName>/modifications.json"
// if present, replacing any previously loaded data. A missing file is
// not an error: it means the suite has no modifications configured,
// mirroring cptmodifiers.cpp's "if (!fs::exists(fname)) return;" early
// exit.
func (s *Store) LoadForSuite(extraMetainfoDir, suiteName string) error {
	path := filepath.Join(extraMetainfoDir, suiteName, "modifications.json")

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.removed, s.custom, s.loaded, s.sourceFn = map[string]bool{}, map[string]map[string]string{}, true, ""
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("modifications: read %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("modifications: parse %s: %w", path, err)
	}

	removed := make(map[string]bool, len(doc.Remove))
	for _, cid := range doc.Remove {
		removed[cid] = true
	}
	custom := make(map[string]map[string]string, len(doc.InjectCustom))
	for cid, fields := range doc.InjectCustom {
		custom[cid] = fields
	}

	s.mu.Lock()
	s.removed, s.custom, s.loaded, s.sourceFn = removed, custom, true, path
	s.mu.Unlock()
	return nil
}

// HasRemovedComponents reports whether the loaded suite configuration
// removes at least one component.
func (s *Store) HasRemovedComponents() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.removed) > 0
}

// IsRemoved reports whether componentID is marked for deletion.
func (s *Store) IsRemoved(componentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.removed[componentID]
}

// InjectedCustom returns the custom key/value pairs configured for
// componentID, if any.
func (s *Store) InjectedCustom(componentID string) (map[string]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.custom[componentID]
	return c, ok
}

// RemovedComponentIDs returns every component id marked for removal, in
// no particular order; used by the report generator to list dropped
// components even though they never appear in a generated result.
func (s *Store) RemovedComponentIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.removed))
	for cid := range s.removed {
		out = append(out, cid)
	}
	return out
}
