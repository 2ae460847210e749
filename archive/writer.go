package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"time"

	kgzip "github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Writer produces a compressed tarball. Writes go to "<target>.new" and the
// file is renamed into place only on a successful Close, so a reader never
// observes a partially-written catalog file.
type Writer struct {
	target  string
	tmpPath string
	tmp     *os.File
	comp    io.WriteCloser
	tw      *tar.Writer
	failed  bool
}

// NewWriter creates a new compressed tar writer for target using format.
func NewWriter(target string, format Format) (*Writer, error) {
	tmpPath := target + ".new"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("archive: creating %q: %w", tmpPath, err)
	}
	comp, err := compressor(f, format)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, err
	}
	return &Writer{
		target:  target,
		tmpPath: tmpPath,
		tmp:     f,
		comp:    comp,
		tw:      tar.NewWriter(comp),
	}, nil
}

func compressor(f *os.File, format Format) (io.WriteCloser, error) {
	switch format {
	case Gzip:
		return kgzip.NewWriterLevel(f, kgzip.BestCompression)
	case Xz:
		return xz.NewWriter(f)
	case Zstd:
		return zstd.NewWriter(f)
	default:
		return nopWriteCloser{f}, nil
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// AddFile writes name with the given contents as a regular file member.
// The member's modification time is zeroed so that otherwise-identical
// catalog files produce byte-identical output across runs.
func (w *Writer) AddFile(name string, data []byte) error {
	h := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(data)),
		ModTime:  time.Unix(0, 0).UTC(),
		Typeflag: tar.TypeReg,
	}
	if err := w.tw.WriteHeader(h); err != nil {
		w.failed = true
		return fmt.Errorf("archive: writing header for %q: %w", name, err)
	}
	if _, err := w.tw.Write(data); err != nil {
		w.failed = true
		return fmt.Errorf("archive: writing data for %q: %w", name, err)
	}
	return nil
}

// Close finalizes the archive and renames it into place. If any AddFile
// call failed, or Close itself fails, the temp file is removed instead of
// being published.
func (w *Writer) Close() error {
	if w.failed {
		w.tw.Close()
		w.comp.Close()
		w.tmp.Close()
		os.Remove(w.tmpPath)
		return fmt.Errorf("archive: not closing %q after earlier write failure", w.target)
	}
	if err := w.tw.Close(); err != nil {
		w.comp.Close()
		w.tmp.Close()
		os.Remove(w.tmpPath)
		return fmt.Errorf("archive: closing tar writer: %w", err)
	}
	if err := w.comp.Close(); err != nil {
		w.tmp.Close()
		os.Remove(w.tmpPath)
		return fmt.Errorf("archive: closing compressor: %w", err)
	}
	if err := w.tmp.Close(); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("archive: closing %q: %w", w.tmpPath, err)
	}
	if err := os.Rename(w.tmpPath, w.target); err != nil {
		return fmt.Errorf("archive: publishing %q: %w", w.target, err)
	}
	return nil
}
