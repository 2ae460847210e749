package archive

import (
	"fmt"
	"os"
)

// WriteCompressed writes data to path through format's compressor,
// publishing atomically the same way Writer does: the body lands at
// "<path>.new" and is renamed into place only once the compressor has
// flushed and closed cleanly. Used by the engine's catalog publication
// step (spec §4.11), which writes a single compressed metadata stream
// rather than a tarball.
func WriteCompressed(path string, data []byte, format Format) error {
	tmpPath := path + ".new"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("archive: creating %q: %w", tmpPath, err)
	}
	comp, err := compressor(f, format)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if _, err := comp.Write(data); err != nil {
		comp.Close()
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("archive: writing %q: %w", tmpPath, err)
	}
	if err := comp.Close(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("archive: closing compressor for %q: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("archive: closing %q: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("archive: publishing %q: %w", path, err)
	}
	return nil
}
