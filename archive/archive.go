// Package archive implements the compressed tarball and standalone-stream
// reading/writing primitives the rest of the generator treats as a black
// box: lazy entry iteration, seek-and-extract-by-name with in-archive
// symlink resolution, bulk extraction to a directory, and a reproducible
// compressed writer.
//
// It is grounded on the teacher's pkg/tarfs package (lazy fs.FS over a tar
// stream, pooled gzip/zstd decoders) and rpm/extract.go (tar-to-filesystem
// materialization).
package archive

import (
	"bufio"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	kgzip "github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Format identifies the compression wrapping an archive or standalone
// stream.
type Format int

const (
	Plain Format = iota
	Gzip
	Xz
	Zstd
	// Bzip2 is read-only: none of the libraries this module otherwise
	// depends on implement a bzip2 encoder, and the generator only ever
	// reads bz2-compressed upstream index files, never writes them. Using
	// the standard library's decompress-only compress/bzip2 here is the
	// documented stdlib exception (see DESIGN.md).
	Bzip2
)

// ErrNotFound is returned by ReadData when no entry matches the requested
// path.
var ErrNotFound = errors.New("archive: not found")

// ErrIsDirectory is returned by ReadData when the requested path names a
// directory rather than a regular file.
var ErrIsDirectory = errors.New("archive: is a directory")

// DetectFormat guesses the compression format from a filename's extension.
// This never opens the file: detection is purely lexical so that [Open]
// stays lazy.
func DetectFormat(path string) Format {
	switch {
	case hasAnySuffix(path, ".tar.gz", ".tgz", ".gz"):
		return Gzip
	case hasAnySuffix(path, ".tar.xz", ".xz"):
		return Xz
	case hasAnySuffix(path, ".tar.zst", ".zst"):
		return Zstd
	case hasAnySuffix(path, ".tar.bz2", ".bz2"):
		return Bzip2
	default:
		return Plain
	}
}

func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

// decompressor wraps r in the reader appropriate for format. The returned
// closer, if non-nil, must be closed by the caller in addition to the
// underlying stream.
func decompressor(f io.Reader, format Format) (io.Reader, io.Closer, error) {
	switch format {
	case Gzip:
		zr, err := kgzip.NewReader(bufio.NewReader(f))
		if err != nil {
			return nil, nil, fmt.Errorf("archive: opening gzip stream: %w", err)
		}
		return zr, zr, nil
	case Xz:
		xr, err := xz.NewReader(bufio.NewReader(f))
		if err != nil {
			return nil, nil, fmt.Errorf("archive: opening xz stream: %w", err)
		}
		return xr, nil, nil
	case Zstd:
		zr, err := zstd.NewReader(bufio.NewReader(f))
		if err != nil {
			return nil, nil, fmt.Errorf("archive: opening zstd stream: %w", err)
		}
		return zr.IOReadCloser(), zr.IOReadCloser(), nil
	case Bzip2:
		return bzip2.NewReader(bufio.NewReader(f)), nil, nil
	default:
		return bufio.NewReader(f), nil, nil
	}
}

// OpenStream opens path as a standalone (non-tar) compressed stream, e.g. a
// bare "Packages.xz". The returned ReadCloser must be closed by the caller;
// closing it also closes the underlying file.
func OpenStream(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("archive: opening %q: %w", path, err)
	}
	rd, rc, err := decompressor(f, DetectFormat(path))
	if err != nil {
		f.Close()
		return nil, err
	}
	return &streamCloser{r: rd, inner: rc, f: f}, nil
}

// NewStreamReader decompresses an already-open, non-seekable stream — e.g.
// the in-memory bytes of a remotely fetched index file — according to
// format. Unlike OpenStream it does not own a file handle: closing the
// returned ReadCloser only releases format-specific decoder state.
func NewStreamReader(r io.Reader, format Format) (io.ReadCloser, error) {
	rd, rc, err := decompressor(r, format)
	if err != nil {
		return nil, err
	}
	return &streamCloser{r: rd, inner: rc}, nil
}

type streamCloser struct {
	r     io.Reader
	inner io.Closer
	f     *os.File
}

func (s *streamCloser) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *streamCloser) Close() error {
	var err error
	if s.inner != nil {
		err = s.inner.Close()
	}
	if s.f != nil {
		if cerr := s.f.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// normPath normalizes a tar header name to begin with "/", as required by
// spec §4.1.
func normPath(name string) string {
	p := filepath.ToSlash(name)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return filepath.ToSlash(filepath.Clean(p))
}
