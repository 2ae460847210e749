package debian

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/asgen/asgen/archive"
	"github.com/asgen/asgen/fetch"
	"github.com/asgen/asgen/pkgmodel"
)

// debPkgState backs one Debian-style package's lazy file access: fetching
// the .deb (if the archive root is remote) and splitting out its
// data.tar.* payload each happen at most once, on first Contents or
// FileData call, mirroring DebPackage's lazily-opened ArchiveDecompressor
// pair in the original implementation.
type debPkgState struct {
	b             *Backend
	relFilename   string
	presetLocal   string
	tmpDir        string
	removeTmpDir  bool

	localOnce sync.Once
	localPath string
	localErr  error

	dataOnce sync.Once
	dataPath string
	dataErr  error
}

// newDebPackage constructs a package whose .deb lives at relFilename
// relative to the archive root (or is itself a full URL), downloading it
// into a per-package temp directory on first content access.
func newDebPackage(b *Backend, name, ver, arch, relFilename string) *pkgmodel.Base {
	st := &debPkgState{
		b:            b,
		relFilename:  relFilename,
		tmpDir:       filepath.Join(os.TempDir(), "asgen-debian", fmt.Sprintf("%s-%s_%s", name, ver, arch)),
		removeTmpDir: true,
	}
	return pkgmodel.New(name, ver, arch, st.contents, st.fileData, st.finish)
}

// newDebPackageAtPath constructs a package around a .deb that's already
// materialized locally at localPath, used by PackageForFile where the
// caller has already resolved (and possibly downloaded) the file.
func newDebPackageAtPath(b *Backend, name, ver, arch, localPath, tmpDir string) *pkgmodel.Base {
	st := &debPkgState{b: b, presetLocal: localPath, tmpDir: tmpDir, removeTmpDir: true}
	return pkgmodel.New(name, ver, arch, st.contents, st.fileData, st.finish)
}

func (s *debPkgState) localDebPath() (string, error) {
	s.localOnce.Do(func() {
		if s.presetLocal != "" {
			s.localPath = s.presetLocal
			return
		}
		if !fetch.IsRemote(s.b.root.Root) {
			s.localPath = filepath.Join(s.b.root.Root, s.relFilename)
			return
		}
		if err := os.MkdirAll(s.tmpDir, 0o755); err != nil {
			s.localErr = fmt.Errorf("backend/debian: preparing temp dir: %w", err)
			return
		}
		dest := filepath.Join(s.tmpDir, filepath.Base(s.relFilename))
		url := s.b.root.Join(s.relFilename)
		if err := s.b.dl.DownloadFile(context.Background(), url, dest, s.b.maxTries()); err != nil {
			s.localErr = fmt.Errorf("backend/debian: fetching %q: %w", url, err)
			return
		}
		s.localPath = dest
	})
	return s.localPath, s.localErr
}

// dataArchivePath returns the local path of the package's extracted
// data.tar.* payload, extracting it from the .deb's ar container on first
// use.
func (s *debPkgState) dataArchivePath() (string, error) {
	s.dataOnce.Do(func() {
		local, err := s.localDebPath()
		if err != nil {
			s.dataErr = err
			return
		}
		name, data, err := extractArMember(local, "data.tar")
		if err != nil {
			s.dataErr = err
			return
		}
		if err := os.MkdirAll(s.tmpDir, 0o755); err != nil {
			s.dataErr = fmt.Errorf("backend/debian: preparing temp dir: %w", err)
			return
		}
		dest := filepath.Join(s.tmpDir, name)
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			s.dataErr = fmt.Errorf("backend/debian: writing payload archive: %w", err)
			return
		}
		s.dataPath = dest
	})
	return s.dataPath, s.dataErr
}

func (s *debPkgState) contents() ([]string, error) {
	path, err := s.dataArchivePath()
	if err != nil {
		return nil, err
	}
	r := archive.Open(path)
	defer r.Close()

	var files []string
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if e.Kind == archive.KindFile {
			files = append(files, e.Pathname)
		}
	}
	return files, nil
}

func (s *debPkgState) fileData(path string) ([]byte, error) {
	archivePath, err := s.dataArchivePath()
	if err != nil {
		return nil, err
	}
	r := archive.Open(archivePath)
	defer r.Close()
	return r.ReadData(path)
}

// finish removes the package's temp directory. Safe to call when nothing
// was ever materialized.
func (s *debPkgState) finish() error {
	if !s.removeTmpDir || s.tmpDir == "" {
		return nil
	}
	return os.RemoveAll(s.tmpDir)
}
