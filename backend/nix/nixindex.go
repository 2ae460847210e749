package nix

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"

	"github.com/quay/zlog"
	"golang.org/x/sync/errgroup"
)

// pkgInfo describes one attribute worth turning into a package: its own
// store path, and the desktop files its share/applications tree exposes.
type pkgInfo struct {
	storePath    string
	desktopFiles map[string]bool
}

var storePathPrefix = regexp.MustCompile(`^(/nix/store/[^/]+)`)

// getInterestingPkgs finds the attributes in pkgs whose store path has a
// share/applications directory, caching each path's `nix store ls` result
// under indexPath so repeated runs only index new packages.
//
// Grounded on nixindexutils.cpp::getInterestingNixPkgs; the original
// fans work out via a shelled-out "xargs -P" pipeline, reimplemented here
// as a bounded errgroup of goroutines each running `nix store ls` directly.
func getInterestingPkgs(ctx context.Context, nixExe, storeURL, indexPath string, pkgs map[string]nixPackageEntry) (map[string]pkgInfo, error) {
	pkgsToCheck := map[string]string{} // "attr.output" -> out path
	for attr, entry := range pkgs {
		if skipAttrPrefix.MatchString(attr) {
			continue
		}
		for output, outPath := range entry.Outputs {
			pkgsToCheck[attr+"."+output] = outPath
		}
	}

	if err := os.MkdirAll(indexPath, 0o755); err != nil {
		return nil, err
	}

	var toIndex []string
	for _, outPath := range pkgsToCheck {
		if !strings.HasPrefix(outPath, "/nix/store/") || strings.Contains(outPath, "\n") {
			continue
		}
		indexFile := filepath.Join(indexPath, filepath.Base(outPath)+".json")
		if _, err := os.Stat(indexFile); os.IsNotExist(err) {
			toIndex = append(toIndex, outPath)
		}
	}

	if len(toIndex) > 0 {
		zlog.Debug(ctx).Int("count", len(toIndex)).Msg("nix: indexing new store paths")
		workers := runtime.NumCPU()
		if workers < 1 {
			workers = 1
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for _, outPath := range toIndex {
			outPath := outPath
			g.Go(func() error {
				indexFile := filepath.Join(indexPath, filepath.Base(outPath)+".json")
				entry, err := nixStoreLs(gctx, nixExe, storeURL, outPath, indexPath)
				var data []byte
				if err != nil {
					data = []byte("{}")
				} else {
					data, err = json.Marshal(entry)
					if err != nil {
						data = []byte("{}")
					}
				}
				return os.WriteFile(indexFile, data, 0o644)
			})
		}
		if err := g.Wait(); err != nil {
			zlog.Warn(ctx).Err(err).Msg("nix: indexing process reported an error")
		}
	}

	entries, err := os.ReadDir(indexPath)
	if err != nil {
		return nil, err
	}

	result := map[string]pkgInfo{}
	for _, de := range entries {
		if de.IsDir() || filepath.Ext(de.Name()) != ".json" {
			continue
		}
		outPath := "/nix/store/" + strings.TrimSuffix(de.Name(), ".json")

		data, err := os.ReadFile(filepath.Join(indexPath, de.Name()))
		if err != nil {
			zlog.Warn(ctx).Err(err).Str("file", de.Name()).Msg("nix: failed to read cached index entry")
			continue
		}
		var entry storeEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			zlog.Warn(ctx).Err(err).Str("file", de.Name()).Msg("nix: failed to parse cached index entry")
			continue
		}

		attr, ok := bestAttrFor(outPath, pkgsToCheck)
		if !ok {
			continue
		}

		desktopFiles := findDesktopFiles(ctx, nixExe, storeURL, indexPath, entry)
		if len(desktopFiles) == 0 {
			continue
		}
		result[attr] = pkgInfo{storePath: outPath, desktopFiles: desktopFiles}
	}

	return result, nil
}

// bestAttrFor returns the attribute in pkgsToCheck mapping to outPath with
// the lowest packagePriority score.
func bestAttrFor(outPath string, pkgsToCheck map[string]string) (string, bool) {
	best := ""
	bestScore := 0
	found := false
	var attrs []string
	for attr, p := range pkgsToCheck {
		if p == outPath {
			attrs = append(attrs, attr)
		}
	}
	sort.Strings(attrs) // deterministic iteration before scoring ties
	for _, attr := range attrs {
		score := packagePriority(attr)
		if !found || score < bestScore {
			found = true
			bestScore = score
			best = attr
		}
	}
	return best, found
}

// findDesktopFiles looks for a share/applications directory in entry
// (following at most one level of symlink indirection) and returns the
// .desktop member names it contains.
func findDesktopFiles(ctx context.Context, nixExe, storeURL, workDir string, root storeEntry) map[string]bool {
	share, ok := root.Entries["share"]
	if !ok {
		return nil
	}

	var apps storeEntry
	switch share.Type {
	case "symlink":
		resolved, ok := followSymlink(ctx, nixExe, storeURL, workDir, share.Target+"/applications")
		if !ok {
			return nil
		}
		apps = resolved
	case "directory":
		a, ok := share.Entries["applications"]
		if !ok {
			return nil
		}
		switch a.Type {
		case "symlink":
			resolved, ok := followSymlink(ctx, nixExe, storeURL, workDir, a.Target)
			if !ok {
				return nil
			}
			apps = resolved
		case "directory":
			apps = a
		default:
			return nil
		}
	default:
		return nil
	}

	files := map[string]bool{}
	for name, info := range apps.Entries {
		if !strings.HasSuffix(name, ".desktop") {
			continue
		}
		if info.Type == "symlink" || info.Type == "regular" {
			files[name] = true
		}
	}
	return files
}

// followSymlink resolves target (absolute, or normalized already) to the
// /nix/store/<hash> prefix it names and lists that path, matching
// nixpkg.cpp's getApplicationsFromSymlink helper.
func followSymlink(ctx context.Context, nixExe, storeURL, workDir, target string) (storeEntry, bool) {
	target = filepath.Clean(target)
	m := storePathPrefix.FindString(target)
	if m == "" {
		return storeEntry{}, false
	}
	e, err := nixStoreLs(ctx, nixExe, storeURL, target, workDir)
	if err != nil {
		return storeEntry{}, false
	}
	return e, true
}
