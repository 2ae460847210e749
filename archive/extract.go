package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ExtractArchive materializes every regular file and directory in the
// archive below dest. Non-regular entries (devices, fifos, sockets) are
// skipped silently; symlinks and hardlinks are recreated relative to dest.
//
// Grounded on rpm/extract.go's extractTar, generalized to any archive
// format and to write under an arbitrary destination rather than a
// scanner-owned temp directory.
func (r *Reader) ExtractArchive(dest string) error {
	if err := r.reset(); err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("archive: preparing destination %q: %w", dest, err)
	}
	made := map[string]struct{}{dest: {}}
	var deferredLinks [][2]string

	for {
		h, err := r.tr.Next()
		switch {
		case errors.Is(err, io.EOF):
			goto links
		case err != nil:
			return fmt.Errorf("archive: reading %q: %w", r.path, err)
		}

		{
			tgt := relPath(dest, h.Name)
			dir := filepath.Dir(tgt)
			if _, ok := made[dir]; !ok {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
				made[dir] = struct{}{}
			}
			switch h.Typeflag {
			case tar.TypeDir:
				if err := os.MkdirAll(tgt, 0o755); err != nil {
					return err
				}
				made[tgt] = struct{}{}
			case tar.TypeReg:
				f, err := os.OpenFile(tgt, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
				if err != nil {
					return err
				}
				if _, err := io.Copy(f, r.tr); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
			case tar.TypeSymlink:
				ln := relPath(dest, h.Linkname)
				if err := os.Symlink(ln, tgt); err != nil && !errors.Is(err, os.ErrExist) {
					return err
				}
			case tar.TypeLink:
				// Hardlink targets may appear later in the stream; defer.
				deferredLinks = append(deferredLinks, [2]string{tgt, relPath(dest, h.Linkname)})
			default:
				// devices, fifos, sockets: skipped silently.
			}
		}
	}

links:
	for _, pair := range deferredLinks {
		tgt, src := pair[0], pair[1]
		if err := os.Link(src, tgt); err != nil {
			return fmt.Errorf("archive: hardlinking %q to %q: %w", tgt, src, err)
		}
	}
	return nil
}

// relPath joins an archive member name onto root, guarding against
// directory traversal via ".." components.
func relPath(root, name string) string {
	clean := filepath.Clean(string(filepath.Separator) + filepath.FromSlash(name))
	return filepath.Join(root, clean)
}

// ExtractFilesByRegex extracts only archive members whose normalized
// pathname matches pattern, writing them under dest using their leaf
// filename only (discarding the in-archive directory structure). It
// returns the list of paths written.
func (r *Reader) ExtractFilesByRegex(pattern *regexp.Regexp, dest string) ([]string, error) {
	if err := r.reset(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("archive: preparing destination %q: %w", dest, err)
	}
	var written []string
	for {
		h, err := r.tr.Next()
		switch {
		case errors.Is(err, io.EOF):
			return written, nil
		case err != nil:
			return written, fmt.Errorf("archive: reading %q: %w", r.path, err)
		}
		if h.Typeflag != tar.TypeReg {
			continue
		}
		name := normPath(h.Name)
		if !pattern.MatchString(name) {
			continue
		}
		tgt := filepath.Join(dest, filepath.Base(strings.TrimSuffix(name, "/")))
		f, err := os.OpenFile(tgt, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return written, err
		}
		if _, err := io.Copy(f, r.tr); err != nil {
			f.Close()
			return written, err
		}
		if err := f.Close(); err != nil {
			return written, err
		}
		written = append(written, tgt)
	}
}
