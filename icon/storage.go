package icon

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeIfAbsent writes data to dest, creating parent directories, unless
// dest already exists — spec §4.7 "Storing an icon": "If the file already
// exists, skip rewriting but still add the component's icon references."
func writeIfAbsent(dest string, data []byte) error {
	if _, err := os.Stat(dest); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("icon: stat %s: %w", dest, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("icon: mkdir %s: %w", filepath.Dir(dest), err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("icon: write %s: %w", dest, err)
	}
	return nil
}
