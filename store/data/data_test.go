package data

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/asgen/asgen"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "data.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddGeneratorResultWithComponentsRegistersGCIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	pkid := asgen.NewPkid("gimp", "2.10", "amd64")

	result := GeneratorResult{
		Components: []ComponentMetadata{
			{GCID: "org.gimp.GIMP/amd64/abcd1234", Data: []byte("<component/>")},
		},
	}
	if err := s.AddGeneratorResult(ctx, MetadataXML, pkid, result, false); err != nil {
		t.Fatalf("AddGeneratorResult: %v", err)
	}

	gcids, err := s.GetGCIDsForPackage(pkid)
	if err != nil {
		t.Fatalf("GetGCIDsForPackage: %v", err)
	}
	if len(gcids) != 1 || gcids[0] != "org.gimp.GIMP/amd64/abcd1234" {
		t.Errorf("unexpected gcids: %v", gcids)
	}

	data, found, err := s.GetMetadata(MetadataXML, "org.gimp.GIMP/amd64/abcd1234")
	if err != nil || !found {
		t.Fatalf("GetMetadata: found=%v err=%v", found, err)
	}
	if string(data) != "<component/>" {
		t.Errorf("unexpected metadata: %q", data)
	}
}

func TestAddGeneratorResultSkipsExistingMetadataUnlessForced(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	pkid := asgen.NewPkid("gimp", "2.10", "amd64")
	gcid := asgen.GCID("org.gimp.GIMP/amd64/abcd1234")

	first := GeneratorResult{Components: []ComponentMetadata{{GCID: gcid, Data: []byte("v1")}}}
	if err := s.AddGeneratorResult(ctx, MetadataXML, pkid, first, false); err != nil {
		t.Fatalf("first AddGeneratorResult: %v", err)
	}

	second := GeneratorResult{Components: []ComponentMetadata{{GCID: gcid, Data: []byte("v2")}}}
	if err := s.AddGeneratorResult(ctx, MetadataXML, pkid, second, false); err != nil {
		t.Fatalf("second AddGeneratorResult: %v", err)
	}
	data, _, _ := s.GetMetadata(MetadataXML, gcid)
	if string(data) != "v1" {
		t.Errorf("want unchanged metadata v1, got %q", data)
	}

	if err := s.AddGeneratorResult(ctx, MetadataXML, pkid, second, true); err != nil {
		t.Fatalf("forced AddGeneratorResult: %v", err)
	}
	data, _, _ = s.GetMetadata(MetadataXML, gcid)
	if string(data) != "v2" {
		t.Errorf("want regenerated metadata v2, got %q", data)
	}
}

func TestAddGeneratorResultWithOnlyHintsMarksSeen(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	pkid := asgen.NewPkid("foo", "1.0", "amd64")

	result := GeneratorResult{Hints: []asgen.Hint{{ComponentID: "general", Tag: "no-metainfo"}}}
	if err := s.AddGeneratorResult(ctx, MetadataXML, pkid, result, false); err != nil {
		t.Fatalf("AddGeneratorResult: %v", err)
	}

	gcids, err := s.GetGCIDsForPackage(pkid)
	if err != nil {
		t.Fatalf("GetGCIDsForPackage: %v", err)
	}
	if len(gcids) != 0 {
		t.Errorf("want no gcids for a seen package, got %v", gcids)
	}

	hints, found, err := s.GetHints(pkid)
	if err != nil || !found {
		t.Fatalf("GetHints: found=%v err=%v", found, err)
	}
	if len(hints) == 0 {
		t.Error("want non-empty hints document")
	}
}

func TestAddGeneratorResultIgnoredMarksIgnore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	pkid := asgen.NewPkid("bar", "1.0", "amd64")

	if err := s.AddGeneratorResult(ctx, MetadataXML, pkid, GeneratorResult{}, false); err != nil {
		t.Fatalf("AddGeneratorResult: %v", err)
	}
	gcids, err := s.GetGCIDsForPackage(pkid)
	if err != nil {
		t.Fatalf("GetGCIDsForPackage: %v", err)
	}
	if gcids != nil {
		t.Errorf("want nil gcids for an ignored package, got %v", gcids)
	}
}

func TestRepoMtimeRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := asgen.NewRepoKey("stable", "main", "amd64")

	if _, ok, err := s.RepoMtime(ctx, key); err != nil || ok {
		t.Fatalf("want no mtime recorded yet, got ok=%v err=%v", ok, err)
	}
	if err := s.SetRepoMtime(ctx, key, 1700000000); err != nil {
		t.Fatalf("SetRepoMtime: %v", err)
	}
	mtime, ok, err := s.RepoMtime(ctx, key)
	if err != nil || !ok || mtime != 1700000000 {
		t.Fatalf("RepoMtime = (%d, %v, %v)", mtime, ok, err)
	}
}

func TestGetPkidsMatchingPrefixScan(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"gimp", "gimp-help", "firefox"} {
		pkid := asgen.NewPkid(name, "1.0", "amd64")
		if err := s.AddGeneratorResult(ctx, MetadataXML, pkid, GeneratorResult{}, false); err != nil {
			t.Fatalf("AddGeneratorResult(%s): %v", name, err)
		}
	}
	matches, err := s.GetPkidsMatching("gimp")
	if err != nil {
		t.Fatalf("GetPkidsMatching: %v", err)
	}
	if len(matches) != 2 {
		t.Errorf("want 2 matches, got %v", matches)
	}
}

func TestCleanupCruftRemovesStaleMetadataAndMedia(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	keep := asgen.NewPkid("keep", "1.0", "amd64")
	if err := s.AddGeneratorResult(ctx, MetadataXML, keep, GeneratorResult{
		Components: []ComponentMetadata{{GCID: "keep.gcid", Data: []byte("x")}},
	}, false); err != nil {
		t.Fatalf("AddGeneratorResult keep: %v", err)
	}

	mediaRoot := t.TempDir()
	poolDir := filepath.Join(mediaRoot, "pool")
	if err := os.MkdirAll(filepath.Join(poolDir, "keep.gcid"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(poolDir, "stale.gcid"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := s.CleanupCruft(ctx, mediaRoot, nil); err != nil {
		t.Fatalf("CleanupCruft: %v", err)
	}

	if _, err := os.Stat(filepath.Join(poolDir, "keep.gcid")); err != nil {
		t.Errorf("want kept pool dir to survive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(poolDir, "stale.gcid")); !os.IsNotExist(err) {
		t.Errorf("want stale pool dir removed, stat err = %v", err)
	}
}

func TestStatisticsOrderedByTimestamp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	recs := []StatisticsRecord{
		{Timestamp: 100, Suite: "stable", Section: "main", TotalInfos: 1},
		{Timestamp: 300, Suite: "stable", Section: "main", TotalInfos: 3},
		{Timestamp: 200, Suite: "stable", Section: "main", TotalInfos: 2},
	}
	for _, r := range recs {
		if err := s.AddStatistics(ctx, r); err != nil {
			t.Fatalf("AddStatistics: %v", err)
		}
	}
	got, err := s.GetStatisticsSince(ctx, 0)
	if err != nil {
		t.Fatalf("GetStatisticsSince: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("want 3 records, got %d", len(got))
	}
	for i, want := range []int64{100, 200, 300} {
		if got[i].Timestamp != want {
			t.Errorf("record %d: want timestamp %d, got %d", i, want, got[i].Timestamp)
		}
	}
}
