// Package data implements the data store (spec §4.6, C6): the same
// bbolt substrate as store/contents, holding six sub-dbs that track
// which packages produced which global component ids, their serialized
// metadata in either output format, raised hints, per-repository mtimes,
// and timestamped run statistics.
//
// Grounded on spec.md §3 "Data-store records" and §4.6; as with
// store/contents, original_source has no standalone module for this
// layer, so the record encodings are a literal translation of the prose
// contract, built on the same go.etcd.io/bbolt substrate and
// internal/kvstore helpers as store/contents.
package data

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/asgen/asgen"
	"github.com/asgen/asgen/backend"
	"github.com/asgen/asgen/internal/kvstore"
)

const (
	bucketPackages     = "packages"
	bucketRepository   = "repository"
	bucketMetadataXML  = "metadata_xml"
	bucketMetadataYAML = "metadata_yaml"
	bucketHints        = "hints"
	bucketStatistics   = "statistics"
)

// Package status sentinels stored verbatim in the packages sub-db.
const (
	statusIgnore = "ignore"
	statusSeen   = "seen"
)

// MetadataFormat selects which serialization a component's metadata was
// stored in; exactly one is canonical per run, per suite configuration.
type MetadataFormat int

const (
	MetadataXML MetadataFormat = iota
	MetadataYAML
)

func (f MetadataFormat) bucket() string {
	if f == MetadataYAML {
		return bucketMetadataYAML
	}
	return bucketMetadataXML
}

// ComponentMetadata is one component's already-serialized metadata
// fragment, keyed by the gcid the compose library minted for it.
type ComponentMetadata struct {
	GCID asgen.GCID
	Data []byte
}

// GeneratorResult is the store's view of what the extractor produced for
// one package: kept decoupled from the extract/result packages (C8/C9,
// built later) so this leaf package never has to import them.
type GeneratorResult struct {
	Components []ComponentMetadata
	Hints      []asgen.Hint
}

// Store is the data store (C6).
type Store struct {
	db *bbolt.DB
}

var _ backend.RepoMtimeStore = (*Store)(nil)

// Open opens or creates the data database at path.
func Open(path string) (*Store, error) {
	db, err := kvstore.Open(path, bucketPackages, bucketRepository, bucketMetadataXML, bucketMetadataYAML, bucketHints, bucketStatistics)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }
func (s *Store) Sync() error  { return s.db.Sync() }

func withNulTerminator(b []byte) []byte {
	out := make([]byte, len(b)+1)
	copy(out, b)
	return out
}

func trimNulTerminator(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == 0 {
		return b[:n-1]
	}
	return b
}

func parseGCIDList(value string) []asgen.GCID {
	if value == "" || value == statusIgnore || value == statusSeen {
		return nil
	}
	var out []asgen.GCID
	for _, line := range strings.Split(value, "\n") {
		if line != "" {
			out = append(out, asgen.GCID(line))
		}
	}
	return out
}

// hasMetadata reports whether gcid already has a serialized fragment
// stored in format's sub-db.
func (s *Store) hasMetadata(format MetadataFormat, gcid asgen.GCID) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket([]byte(format.bucket())).Get([]byte(gcid)) != nil
		return nil
	})
	return found, err
}

// HasMetadata is the exported form of hasMetadata, used by the extractor
// (C8)'s "early intermediate check" to decide whether a component's
// serialized body already exists.
func (s *Store) HasMetadata(format MetadataFormat, gcid asgen.GCID) (bool, error) {
	return s.hasMetadata(format, gcid)
}

// OwnerOfGCID finds the pkid whose gcid list already contains gcid, if
// any. Used by the extractor's duplicate-id detection ("look up whether
// existing metadata references a different package"). This is a linear
// scan over the packages bucket; the data store is not expected to hold
// enough entries per run for that to matter.
func (s *Store) OwnerOfGCID(gcid asgen.GCID) (asgen.Pkid, bool, error) {
	var owner asgen.Pkid
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketPackages)).ForEach(func(k, v []byte) error {
			for _, g := range parseGCIDList(string(v)) {
				if g == gcid {
					owner = asgen.Pkid(bytes.Clone(k))
					found = true
					return nil
				}
			}
			return nil
		})
	})
	return owner, found, err
}

// AddGeneratorResult records what the extractor produced for pkid,
// following spec §4.6's addGeneratorResult contract: components whose
// gcid already has stored metadata are skipped unless alwaysRegenerate is
// set, but are still registered under pkid; the package's status line is
// then derived from whether any components or hints resulted.
func (s *Store) AddGeneratorResult(ctx context.Context, format MetadataFormat, pkid asgen.Pkid, result GeneratorResult, alwaysRegenerate bool) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		metaBucket := tx.Bucket([]byte(format.bucket()))
		var gcids []string
		for _, c := range result.Components {
			gcids = append(gcids, string(c.GCID))
			exists := metaBucket.Get([]byte(c.GCID)) != nil
			if exists && !alwaysRegenerate {
				continue
			}
			if err := metaBucket.Put([]byte(c.GCID), withNulTerminator(c.Data)); err != nil {
				return fmt.Errorf("data: store metadata for %s: %w", c.GCID, err)
			}
		}

		switch {
		case len(result.Components) > 0:
			value := []byte(strings.Join(gcids, "\n"))
			if err := tx.Bucket([]byte(bucketPackages)).Put([]byte(pkid), value); err != nil {
				return err
			}
		case len(result.Hints) > 0:
			if err := tx.Bucket([]byte(bucketPackages)).Put([]byte(pkid), []byte(statusSeen)); err != nil {
				return err
			}
		default:
			if err := tx.Bucket([]byte(bucketPackages)).Put([]byte(pkid), []byte(statusIgnore)); err != nil {
				return err
			}
		}

		if len(result.Hints) > 0 {
			doc, err := encodeHints(pkid, result.Hints)
			if err != nil {
				return err
			}
			if err := tx.Bucket([]byte(bucketHints)).Put([]byte(pkid), withNulTerminator(doc)); err != nil {
				return fmt.Errorf("data: store hints for %s: %w", pkid, err)
			}
		}
		return nil
	})
}

type hintEntry struct {
	Tag  string         `json:"tag"`
	Vars map[string]any `json:"vars,omitempty"`
}

type hintsDocument struct {
	Package asgen.Pkid             `json:"package"`
	Hints   map[string][]hintEntry `json:"hints"`
}

func encodeHints(pkid asgen.Pkid, hints []asgen.Hint) ([]byte, error) {
	doc := hintsDocument{Package: pkid, Hints: map[string][]hintEntry{}}
	for _, h := range hints {
		id := h.ComponentID
		if id == "" {
			id = asgen.GeneralComponentID
		}
		doc.Hints[id] = append(doc.Hints[id], hintEntry{Tag: h.Tag, Vars: h.Vars})
	}
	return json.Marshal(doc)
}

// GetGCIDsForPackage returns pkid's recorded gcids, or nil when the
// package is marked "ignore"/"seen" or has no record at all.
func (s *Store) GetGCIDsForPackage(pkid asgen.Pkid) ([]asgen.GCID, error) {
	var gcids []asgen.GCID
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(bucketPackages)).Get([]byte(pkid))
		gcids = parseGCIDList(string(v))
		return nil
	})
	return gcids, err
}

// RemovePackage deletes pkid's package-status and hints entries, backing
// the "forget" and "remove-found" CLI verbs (spec §4.11). The gcids
// pkid referenced become orphaned and are swept by a subsequent
// CleanupCruft call; RemovePackage itself never touches the metadata
// sub-dbs directly, since another package may reference the same gcid.
func (s *Store) RemovePackage(pkid asgen.Pkid) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(bucketPackages)).Delete([]byte(pkid)); err != nil {
			return fmt.Errorf("data: forget package %s: %w", pkid, err)
		}
		if err := tx.Bucket([]byte(bucketHints)).Delete([]byte(pkid)); err != nil {
			return fmt.Errorf("data: forget hints for %s: %w", pkid, err)
		}
		return nil
	})
}

// PackageKnown reports whether pkid has any record at all in the packages
// sub-db (gcids, "seen", or "ignore"), letting the engine's seeding step
// (spec §4.11) tell "never seen before" apart from "seen but produced
// nothing", which GetGCIDsForPackage's nil-on-either case can't.
func (s *Store) PackageKnown(pkid asgen.Pkid) (bool, error) {
	var known bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		known = tx.Bucket([]byte(bucketPackages)).Get([]byte(pkid)) != nil
		return nil
	})
	return known, err
}

// GetPkidsMatching returns every package id with the given prefix,
// backing the "forget" and "info" CLI verbs' lookups.
func (s *Store) GetPkidsMatching(prefix string) ([]asgen.Pkid, error) {
	var out []asgen.Pkid
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketPackages)).Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			out = append(out, asgen.Pkid(bytes.Clone(k)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("data: prefix scan %q: %w", prefix, err)
	}
	return out, nil
}

// RepoMtime implements backend.RepoMtimeStore.
func (s *Store) RepoMtime(ctx context.Context, key asgen.RepoKey) (int64, bool, error) {
	var mtime int64
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(bucketRepository)).Get([]byte(key))
		if v == nil {
			return nil
		}
		_, fields, err := kvstore.DecodeRecord(v, false)
		if err != nil {
			return fmt.Errorf("data: decode repository record for %s: %w", key, err)
		}
		for _, f := range fields {
			if f.Key == "mtime" {
				mtime, ok = f.Int, true
			}
		}
		return nil
	})
	return mtime, ok, err
}

// SetRepoMtime implements backend.RepoMtimeStore.
func (s *Store) SetRepoMtime(ctx context.Context, key asgen.RepoKey, mtime int64) error {
	data := kvstore.EncodeRecord([]kvstore.Field{kvstore.IntField("mtime", mtime)}, nil)
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketRepository)).Put([]byte(key), data)
	})
}

// StatisticsRecord is one appended row of the statistics sub-db.
type StatisticsRecord struct {
	Timestamp     int64
	Suite         string
	Section       string
	TotalInfos    int64
	TotalWarnings int64
	TotalErrors   int64
	TotalMetadata int64
}

func statsKey(ts int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(ts))
	return b[:]
}

// AddStatistics appends one row under timestamp; used by the report
// generator (C12) after each run.
func (s *Store) AddStatistics(ctx context.Context, rec StatisticsRecord) error {
	fields := []kvstore.Field{
		kvstore.StringField("suite", rec.Suite),
		kvstore.StringField("section", rec.Section),
		kvstore.IntField("totalInfos", rec.TotalInfos),
		kvstore.IntField("totalWarnings", rec.TotalWarnings),
		kvstore.IntField("totalErrors", rec.TotalErrors),
		kvstore.IntField("totalMetadata", rec.TotalMetadata),
	}
	data := kvstore.EncodeRecord(fields, &rec.Timestamp)
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketStatistics)).Put(statsKey(rec.Timestamp), data)
	})
}

// GetStatisticsSince returns every statistics row with a timestamp >=
// since, in ascending timestamp order (the sub-db's natural key order).
func (s *Store) GetStatisticsSince(ctx context.Context, since int64) ([]StatisticsRecord, error) {
	var out []StatisticsRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketStatistics)).Cursor()
		for k, v := c.Seek(statsKey(since)); k != nil; k, v = c.Next() {
			ts, fields, err := kvstore.DecodeRecord(v, true)
			if err != nil {
				return fmt.Errorf("data: decode statistics record: %w", err)
			}
			rec := StatisticsRecord{Timestamp: *ts}
			for _, f := range fields {
				switch f.Key {
				case "suite":
					rec.Suite = f.Str
				case "section":
					rec.Section = f.Str
				case "totalInfos":
					rec.TotalInfos = f.Int
				case "totalWarnings":
					rec.TotalWarnings = f.Int
				case "totalErrors":
					rec.TotalErrors = f.Int
				case "totalMetadata":
					rec.TotalMetadata = f.Int
				}
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CleanupCruft computes the active gcid set from the packages sub-db and
// drops every metadata entry and media-pool directory whose gcid is no
// longer referenced, plus the per-suite media tree of every suite not
// marked immutable.
func (s *Store) CleanupCruft(ctx context.Context, mediaExportRoot string, suites []*asgen.Suite) error {
	active := map[asgen.GCID]bool{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketPackages)).ForEach(func(_, v []byte) error {
			for _, g := range parseGCIDList(string(v)) {
				active[g] = true
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("data: compute active gcid set: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range []string{bucketMetadataXML, bucketMetadataYAML} {
			b := tx.Bucket([]byte(bucket))
			var stale [][]byte
			if err := b.ForEach(func(k, _ []byte) error {
				if !active[asgen.GCID(k)] {
					stale = append(stale, bytes.Clone(k))
				}
				return nil
			}); err != nil {
				return err
			}
			for _, k := range stale {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("data: drop stale metadata: %w", err)
	}

	if mediaExportRoot == "" {
		return nil
	}
	if err := sweepDir(filepath.Join(mediaExportRoot, "pool"), active); err != nil {
		return err
	}
	for _, suite := range suites {
		if suite.Immutable {
			continue
		}
		if err := sweepDir(filepath.Join(mediaExportRoot, suite.Name), active); err != nil {
			return err
		}
	}
	return nil
}

func sweepDir(root string, active map[asgen.GCID]bool) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("data: sweep %s: %w", root, err)
	}
	for _, e := range entries {
		if active[asgen.GCID(e.Name())] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			return fmt.Errorf("data: remove stale media dir %s: %w", e.Name(), err)
		}
	}
	return nil
}

// GetMetadata returns the raw stored fragment for gcid in the given
// format, with its trailing NUL stripped.
func (s *Store) GetMetadata(format MetadataFormat, gcid asgen.GCID) ([]byte, bool, error) {
	var data []byte
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(format.bucket())).Get([]byte(gcid))
		if v == nil {
			return nil
		}
		found = true
		data = trimNulTerminator(bytes.Clone(v))
		return nil
	})
	return data, found, err
}

// GetHints returns the raw stored hints document for pkid, with its
// trailing NUL stripped.
func (s *Store) GetHints(pkid asgen.Pkid) ([]byte, bool, error) {
	var data []byte
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(bucketHints)).Get([]byte(pkid))
		if v == nil {
			return nil
		}
		found = true
		data = trimNulTerminator(bytes.Clone(v))
		return nil
	})
	return data, found, err
}
