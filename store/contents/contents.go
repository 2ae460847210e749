// Package contents implements the contents store (spec §4.5, C5): a
// memory-mapped, copy-on-write, single-writer/many-reader key/value
// database recording every package's file list plus the icon-file and
// locale-file subsets of it, keyed by package id.
//
// Grounded on spec.md §4.5's record/operation list; there is no original
// C++ source for this module in original_source (it describes the
// database layer at a level the retrieval pack's source tree doesn't
// reach), so the operations below are a direct, literal translation of
// the prose contract onto go.etcd.io/bbolt, the mmap'd ordered KV store
// named in SPEC_FULL.md's domain stack (grounded there on
// other_examples/manifests/2lambda123-aquasecurity-trivy's use of bbolt
// as a local cache of upstream metadata, the same role it plays here).
package contents

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/asgen/asgen"
	"github.com/asgen/asgen/internal/kvstore"
)

const (
	bucketContents   = "contents"
	bucketIconData   = "icondata"
	bucketLocaleData = "localedata"
)

// Store is the contents store (C5).
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the contents database at path.
func Open(path string) (*Store, error) {
	db, err := kvstore.Open(path, bucketContents, bucketIconData, bucketLocaleData)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Sync flushes pending writes to disk.
func (s *Store) Sync() error { return s.db.Sync() }

func isIconPath(p string) bool {
	return strings.HasPrefix(p, "/usr/share/icons/") || strings.HasPrefix(p, "/usr/share/pixmaps/")
}

func isLocalePath(p string) bool {
	return strings.HasSuffix(p, ".mo") || strings.HasSuffix(p, ".qm")
}

func joinPaths(paths []string) []byte {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	return []byte(strings.Join(sorted, "\n"))
}

func splitPaths(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	return strings.Split(string(data), "\n")
}

// AddContents partitions paths into (icons, locales, all) and writes all
// three records for pkid in a single transaction, per the invariant that
// an icon/locale entry is always also present in the full contents list.
func (s *Store) AddContents(ctx context.Context, pkid asgen.Pkid, paths []string) error {
	var icons, locales []string
	for _, p := range paths {
		if isIconPath(p) {
			icons = append(icons, p)
		}
		if isLocalePath(p) {
			locales = append(locales, p)
		}
	}
	key := []byte(pkid)
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(bucketContents)).Put(key, joinPaths(paths)); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(bucketIconData)).Put(key, joinPaths(icons)); err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketLocaleData)).Put(key, joinPaths(locales))
	})
}

func (s *Store) get(bucket string, pkid asgen.Pkid) ([]string, error) {
	var paths []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(bucket)).Get([]byte(pkid))
		paths = splitPaths(v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("contents: get %s for %s: %w", bucket, pkid, err)
	}
	return paths, nil
}

// GetContents returns the full path list recorded for pkid.
func (s *Store) GetContents(pkid asgen.Pkid) ([]string, error) { return s.get(bucketContents, pkid) }

// GetIcons returns the icon-path subset recorded for pkid.
func (s *Store) GetIcons(pkid asgen.Pkid) ([]string, error) { return s.get(bucketIconData, pkid) }

// GetLocaleFiles returns the locale-path subset recorded for pkid.
func (s *Store) GetLocaleFiles(pkid asgen.Pkid) ([]string, error) {
	return s.get(bucketLocaleData, pkid)
}

func (s *Store) buildMap(bucket string, pkids []asgen.Pkid, byBasename bool) (map[string]asgen.Pkid, error) {
	want := make(map[asgen.Pkid]bool, len(pkids))
	for _, p := range pkids {
		want[p] = true
	}
	out := map[string]asgen.Pkid{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		return b.ForEach(func(k, v []byte) error {
			pkid := asgen.Pkid(k)
			if !want[pkid] {
				return nil
			}
			for _, p := range splitPaths(v) {
				if p == "" {
					continue
				}
				key := p
				if byBasename {
					if idx := strings.LastIndexByte(p, '/'); idx >= 0 {
						key = p[idx+1:]
					}
				}
				out[key] = pkid
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("contents: build map over %s: %w", bucket, err)
	}
	return out, nil
}

// GetContentsMap returns an inverted path -> pkid index over pkids.
func (s *Store) GetContentsMap(pkids []asgen.Pkid) (map[string]asgen.Pkid, error) {
	return s.buildMap(bucketContents, pkids, false)
}

// GetIconFilesMap returns an inverted icon-path -> pkid index over pkids.
func (s *Store) GetIconFilesMap(pkids []asgen.Pkid) (map[string]asgen.Pkid, error) {
	return s.buildMap(bucketIconData, pkids, false)
}

// GetLocaleMap returns an inverted locale-file -> pkid index over pkids,
// keyed by file basename rather than full path (spec §4.5, "the locale
// variant intentionally uses file basename, not full path").
func (s *Store) GetLocaleMap(pkids []asgen.Pkid) (map[string]asgen.Pkid, error) {
	return s.buildMap(bucketLocaleData, pkids, true)
}

// RemovePackage deletes pkid's entries from all three sub-dbs atomically.
func (s *Store) RemovePackage(pkid asgen.Pkid) error {
	key := []byte(pkid)
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range []string{bucketContents, bucketIconData, bucketLocaleData} {
			if err := tx.Bucket([]byte(bucket)).Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemovePackages deletes every pkid in the set, across all three sub-dbs,
// in one transaction.
func (s *Store) RemovePackages(pkids []asgen.Pkid) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, pkid := range pkids {
			key := []byte(pkid)
			for _, bucket := range []string{bucketContents, bucketIconData, bucketLocaleData} {
				if err := tx.Bucket([]byte(bucket)).Delete(key); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// PackageExists reports whether pkid has a full-contents record.
func (s *Store) PackageExists(pkid asgen.Pkid) (bool, error) {
	var exists bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket([]byte(bucketContents)).Get([]byte(pkid)) != nil
		return nil
	})
	return exists, err
}

// GetPackageIDSet returns every pkid with a full-contents record.
func (s *Store) GetPackageIDSet() (map[asgen.Pkid]bool, error) {
	out := map[asgen.Pkid]bool{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketContents)).ForEach(func(k, _ []byte) error {
			out[asgen.Pkid(bytes.Clone(k))] = true
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("contents: list package ids: %w", err)
	}
	return out, nil
}
