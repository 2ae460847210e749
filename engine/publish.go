package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/quay/zlog"

	"github.com/asgen/asgen"
	"github.com/asgen/asgen/archive"
	"github.com/asgen/asgen/store/data"
)

// metadataExt is the catalog file's extension for the configured metadata
// format, "xml" or "yml", per spec §6's "Components-<arch>.<ext>.{gz,xz}"
// persistent layout.
func (e *Engine) metadataExt() string {
	if e.Format == data.MetadataYAML {
		return "yml"
	}
	return "xml"
}

// Publish implements the "publish" CLI verb: re-enumerate a suite's
// current pkids, union their recorded gcids, concatenate the
// corresponding metadata fragments and write the result as a single
// compressed catalog stream, then place each active gcid's media either
// behind the shared pool (for non-immutable suites) or copied per-suite
// (for immutable ones).
func (e *Engine) Publish(ctx context.Context, suiteName, sectionName string) error {
	suites, err := e.matchingSuites(suiteName)
	if err != nil {
		return err
	}
	for _, suite := range suites {
		sections, err := sectionsFor(suite, sectionName)
		if err != nil {
			return err
		}
		for _, section := range sections {
			for _, arch := range suite.Architectures {
				if err := e.publishOne(ctx, suite, section, arch); err != nil {
					return fmt.Errorf("engine: publish %s/%s/%s: %w", suite.Name, section, arch, err)
				}
			}
		}
	}
	return nil
}

func (e *Engine) publishOne(ctx context.Context, suite *asgen.Suite, section, arch string) error {
	pkgs, err := e.Backend.PackagesFor(ctx, suite.Name, section, arch, false)
	if err != nil {
		return fmt.Errorf("enumerate packages: %w", err)
	}
	defer e.Backend.Release()

	active := map[asgen.GCID]bool{}
	var order []asgen.GCID
	for _, pkg := range pkgs {
		pkid := asgen.NewPkid(pkg.Name(), pkg.Version(), pkg.Arch())
		gcids, err := e.DataStore.GetGCIDsForPackage(pkid)
		if err != nil {
			return fmt.Errorf("lookup gcids for %s: %w", pkid, err)
		}
		for _, g := range gcids {
			if !active[g] {
				active[g] = true
				order = append(order, g)
			}
		}
	}

	body, err := e.concatenateMetadata(order)
	if err != nil {
		return err
	}

	for _, fmtKind := range []archive.Format{archive.Gzip, archive.Xz} {
		ext := map[archive.Format]string{archive.Gzip: "gz", archive.Xz: "xz"}[fmtKind]
		name := fmt.Sprintf("Components-%s.%s.%s", arch, e.metadataExt(), ext)
		dest := filepath.Join(e.DataExportDir, suite.Name, section, name)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("create catalog dir: %w", err)
		}
		if err := archive.WriteCompressed(dest, body, fmtKind); err != nil {
			return fmt.Errorf("write catalog %s: %w", dest, err)
		}
	}

	if err := e.publishMedia(ctx, suite, section, active); err != nil {
		return fmt.Errorf("publish media: %w", err)
	}

	zlog.Info(ctx).Str("suite", suite.Name).Str("section", section).Str("arch", arch).
		Int("components", len(order)).Msg("engine: published catalog")
	return nil
}

// concatenateMetadata renders gcids' stored fragments into one catalog
// body: an XML document wrapping every fragment in a <components> root,
// or, for YAML, the DEP-11 convention of "---"-separated documents.
func (e *Engine) concatenateMetadata(gcids []asgen.GCID) ([]byte, error) {
	var buf bytes.Buffer
	if e.Format == data.MetadataYAML {
		for i, g := range gcids {
			frag, found, err := e.DataStore.GetMetadata(e.Format, g)
			if err != nil {
				return nil, fmt.Errorf("read metadata for %s: %w", g, err)
			}
			if !found {
				continue
			}
			if i > 0 {
				buf.WriteString("---\n")
			}
			buf.Write(frag)
		}
		return buf.Bytes(), nil
	}

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	buf.WriteString(`<components version="0.8">` + "\n")
	for _, g := range gcids {
		frag, found, err := e.DataStore.GetMetadata(e.Format, g)
		if err != nil {
			return nil, fmt.Errorf("read metadata for %s: %w", g, err)
		}
		if !found {
			continue
		}
		buf.Write(frag)
		if len(frag) == 0 || frag[len(frag)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.WriteString(`</components>` + "\n")
	return buf.Bytes(), nil
}

// publishMedia places each active gcid's media directory where the
// catalog's icon references expect to find it: non-immutable suites
// share the single media pool already populated during extraction, so
// there is nothing to do beyond leaving it in place; immutable suites
// get a private copy under the suite/section's own media tree, since
// spec.md's persistence model requires an immutable suite's published
// output (catalog and media alike) to never change once written.
func (e *Engine) publishMedia(ctx context.Context, suite *asgen.Suite, section string, active map[asgen.GCID]bool) error {
	if !suite.Immutable || e.MediaPoolDir == "" {
		return nil
	}
	destRoot := filepath.Join(e.MediaExportDir, suite.Name, section)
	for gcid := range active {
		src := filepath.Join(e.MediaPoolDir, string(gcid))
		if _, err := os.Stat(src); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		dest := filepath.Join(destRoot, string(gcid))
		if err := copyTree(src, dest); err != nil {
			return fmt.Errorf("copy media for %s: %w", gcid, err)
		}
	}
	return nil
}

// copyTree hardlinks (falling back to a byte copy across filesystems)
// every regular file under src into the matching path under dest.
func copyTree(src, dest string) error {
	return filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, rerr := filepath.Rel(src, p)
		if rerr != nil {
			return rerr
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.Link(p, target); err == nil {
			return nil
		}
		return copyFile(p, target)
	})
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
