package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// maxSymlinkDepth bounds in-archive symlink resolution; exceeding it means
// the archive contains a cycle and ReadData fails instead of hanging, per
// spec §8's boundary-behavior requirement.
const maxSymlinkDepth = 8

// EntryKind distinguishes a regular file entry from a symlink sentinel.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindLink
)

// Entry is one member yielded by [Reader.Next]. For KindFile entries, Bytes
// reads the member's data; it is only valid until the next call to Next.
type Entry struct {
	Pathname   string
	Kind       EntryKind
	LinkTarget string
	Size       int64

	src io.Reader
}

// Bytes reads the entirety of a KindFile entry. It must be called before
// advancing the Reader.
func (e *Entry) Bytes() ([]byte, error) {
	if e.Kind != KindFile {
		return nil, fmt.Errorf("archive: entry %q is not a file", e.Pathname)
	}
	return io.ReadAll(e.src)
}

// Reader is a lazy pull iterator over a tar archive, optionally wrapped in a
// compression layer. No I/O happens until the first call to Next or
// ReadData.
type Reader struct {
	path   string
	format Format

	f      *os.File
	closer io.Closer
	tr     *tar.Reader
}

// Open prepares path for reading. It performs no I/O; the underlying file
// is opened lazily on the first Next or ReadData call.
func Open(path string) *Reader {
	return &Reader{path: path, format: DetectFormat(path)}
}

func (r *Reader) open() error {
	if r.tr != nil {
		return nil
	}
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("archive: opening %q: %w", r.path, err)
	}
	rd, closer, err := decompressor(f, r.format)
	if err != nil {
		f.Close()
		return err
	}
	r.f = f
	r.closer = closer
	r.tr = tar.NewReader(rd)
	return nil
}

// reset rewinds the archive back to its first entry, used by ReadData and
// ExtractArchive when they need to scan again.
func (r *Reader) reset() error {
	if r.f == nil {
		return r.open()
	}
	if r.closer != nil {
		r.closer.Close()
		r.closer = nil
	}
	if _, err := r.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("archive: rewinding %q: %w", r.path, err)
	}
	rd, closer, err := decompressor(r.f, r.format)
	if err != nil {
		return err
	}
	r.closer = closer
	r.tr = tar.NewReader(rd)
	return nil
}

// Next returns the next entry in the archive. Directories are skipped
// transparently. It returns io.EOF when the archive is exhausted.
func (r *Reader) Next() (*Entry, error) {
	if err := r.open(); err != nil {
		return nil, err
	}
	for {
		h, err := r.tr.Next()
		switch {
		case errors.Is(err, io.EOF):
			return nil, io.EOF
		case err != nil:
			return nil, fmt.Errorf("archive: reading %q: %w", r.path, err)
		}
		switch h.Typeflag {
		case tar.TypeDir:
			continue
		case tar.TypeSymlink, tar.TypeLink:
			return &Entry{Pathname: normPath(h.Name), Kind: KindLink, LinkTarget: h.Linkname}, nil
		case tar.TypeReg:
			return &Entry{Pathname: normPath(h.Name), Kind: KindFile, Size: h.Size, src: r.tr}, nil
		default:
			continue // devices, fifos, sockets, etc. are not entries.
		}
	}
}

// ReadData extracts the single member named path, following in-archive
// symlinks. It returns ErrNotFound if no entry matches and ErrIsDirectory
// if the match is a directory.
func (r *Reader) ReadData(path string) ([]byte, error) {
	return r.readData(path, 0)
}

func (r *Reader) readData(path string, depth int) ([]byte, error) {
	if depth > maxSymlinkDepth {
		return nil, fmt.Errorf("archive: symlink cycle resolving %q", path)
	}
	if err := r.reset(); err != nil {
		return nil, err
	}
	want := normPath(path)
	for {
		h, err := r.tr.Next()
		switch {
		case errors.Is(err, io.EOF):
			return nil, fmt.Errorf("%w: %q", ErrNotFound, path)
		case err != nil:
			return nil, fmt.Errorf("archive: reading %q: %w", r.path, err)
		}
		if normPath(h.Name) != want {
			continue
		}
		switch h.Typeflag {
		case tar.TypeDir:
			return nil, fmt.Errorf("%w: %q", ErrIsDirectory, path)
		case tar.TypeSymlink, tar.TypeLink:
			// A symlink target is relative to the link's directory; a
			// hardlink target names another member from the archive root.
			target := h.Linkname
			if h.Typeflag == tar.TypeSymlink && !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(want), target)
			}
			return r.readData(target, depth+1)
		default:
			return io.ReadAll(r.tr)
		}
	}
}

// Close releases the archive's file handle. It is safe to call on a Reader
// that was never opened.
func (r *Reader) Close() error {
	var err error
	if r.closer != nil {
		err = r.closer.Close()
	}
	if r.f != nil {
		if cerr := r.f.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
