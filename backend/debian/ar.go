package debian

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/blakesmith/ar"
)

// extractArMember scans the Unix "ar" container at path (a .deb file) for
// the first member whose name starts with prefix — "control.tar" or
// "data.tar" — and returns its name and full contents.
//
// .deb files are ar archives wrapping two inner tarballs (control.tar.*,
// data.tar.*) plus a "debian-binary" marker; this is the only place the
// generator needs ar support, so it's a tiny standalone scan rather than a
// general ar package wrapper.
func extractArMember(path, prefix string) (name string, data []byte, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil, fmt.Errorf("backend/debian: opening %q: %w", path, err)
	}
	defer f.Close()

	rd := ar.NewReader(f)
	for {
		hdr, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return "", nil, fmt.Errorf("backend/debian: %q has no %s* member", path, prefix)
		}
		if err != nil {
			return "", nil, fmt.Errorf("backend/debian: reading %q: %w", path, err)
		}
		n := strings.TrimRight(hdr.Name, "/ ")
		if !strings.HasPrefix(n, prefix) {
			continue
		}
		b, err := io.ReadAll(rd)
		if err != nil {
			return "", nil, fmt.Errorf("backend/debian: reading member %q of %q: %w", n, path, err)
		}
		return n, b, nil
	}
}
