package nix

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

func readJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// storePathArchive lazily walks a package's nix store path to build a map
// of virtual /usr/... content paths to the nix store path that backs
// each, reused by both the contents and file-data closures handed to
// pkgmodel.New.
//
// Grounded on nixpkg.cpp::contents/getFileData, with one deliberate
// simplification: a symlink into another store path is followed by
// running `nix store ls` again on the resolved target path directly,
// rather than replaying a second JSON tree's navigation in memory.
type storePathArchive struct {
	nixExe, storeURL, workDir, storePath string

	once    sync.Once
	entries map[string]string // virtual path -> nix store path
	err     error
}

func newStorePathArchive(nixExe, storeURL, workDir, storePath string) *storePathArchive {
	return &storePathArchive{nixExe: nixExe, storeURL: storeURL, workDir: workDir, storePath: storePath}
}

func (a *storePathArchive) load() {
	a.once.Do(func() {
		a.entries = map[string]string{}
		root, err := nixStoreLs(context.Background(), a.nixExe, a.storeURL, a.storePath, a.workDir)
		if err != nil {
			a.err = err
			return
		}
		if share, ok := root.Entries["share"]; ok {
			a.walk(share, "/share", a.storePath+"/share")
		}
	})
}

func (a *storePathArchive) walk(entry storeEntry, currentPath, storePath string) {
	switch entry.Type {
	case "regular":
		if strings.Contains(currentPath, " ") {
			return
		}
		fpath := "/usr" + currentPath
		if strings.HasPrefix(fpath, "/usr/share/appdata/") {
			a.entries["/usr/share/metainfo/"+strings.TrimPrefix(fpath, "/usr/share/appdata/")] = storePath
		}
		a.entries[fpath] = storePath

	case "symlink":
		target := entry.Target
		if strings.HasPrefix(target, "/") {
			target = filepath.Clean(target)
		} else {
			target = filepath.Clean(filepath.Join(filepath.Dir(storePath), target))
		}
		if !strings.HasPrefix(target, "/nix/store") {
			return
		}
		resolved, err := nixStoreLs(context.Background(), a.nixExe, a.storeURL, target, a.workDir)
		if err != nil {
			return
		}
		a.walk(resolved, currentPath, target)

	case "directory":
		if currentPath != "/share" &&
			!strings.HasPrefix(currentPath, "/share/applications") &&
			!strings.HasPrefix(currentPath, "/share/metainfo") &&
			!strings.HasPrefix(currentPath, "/share/appdata") &&
			!strings.HasPrefix(currentPath, "/share/icons") &&
			!strings.HasPrefix(currentPath, "/share/pixmaps") {
			return
		}
		for name, sub := range entry.Entries {
			a.walk(sub, currentPath+"/"+name, storePath+"/"+name)
		}
	}
}

func (a *storePathArchive) contents() ([]string, error) {
	a.load()
	if a.err != nil {
		return nil, a.err
	}
	files := make([]string, 0, len(a.entries))
	for path := range a.entries {
		files = append(files, path)
	}
	return files, nil
}

func (a *storePathArchive) fileData(path string) ([]byte, error) {
	a.load()
	if a.err != nil {
		return nil, a.err
	}
	storePath, ok := a.entries[path]
	if !ok {
		// appstream-compose sometimes requests a file it already knows
		// doesn't exist; an empty slice makes it panic, so return one
		// space instead, matching NixPackage::getFileData.
		return []byte{' '}, nil
	}
	return nixStoreCat(context.Background(), a.nixExe, a.storeURL, storePath, a.workDir), nil
}
