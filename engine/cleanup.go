package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/quay/zlog"

	"github.com/asgen/asgen"
	"github.com/asgen/asgen/backend"
	"github.com/asgen/asgen/icon"
	"github.com/asgen/asgen/pkgmodel"
)

// ProcessFile implements the "process-file" CLI verb: resolve a single
// package by path through the backend (Debian-style backends only, per
// backend.Backend.PackageForFile's contract) and run it through seeding
// and extraction exactly as Run would, ignoring the data store's
// existing record for it.
func (e *Engine) ProcessFile(ctx context.Context, path, suiteName, sectionName string) error {
	pkg, err := e.Backend.PackageForFile(ctx, path, suiteName, sectionName)
	if err != nil {
		if errors.Is(err, backend.ErrUnsupported) {
			return fmt.Errorf("engine: backend %s does not support process-file", e.Backend.Kind())
		}
		return fmt.Errorf("engine: resolve %s: %w", path, err)
	}

	suites, err := e.matchingSuites(suiteName)
	if err != nil {
		return err
	}
	if len(suites) != 1 {
		return fmt.Errorf("engine: process-file requires exactly one suite, got %d matching %q", len(suites), suiteName)
	}
	suite := suites[0]
	mods, err := e.modificationsFor(suite)
	if err != nil {
		return err
	}

	pkid := asgen.NewPkid(pkg.Name(), pkg.Version(), pkg.Arch())
	byPkid := map[asgen.Pkid]pkgmodel.Package{pkid: pkg}

	if _, err := e.seed(ctx, byPkid, true); err != nil {
		return fmt.Errorf("engine: seed %s: %w", pkid, err)
	}

	themes, err := e.resolveThemes(suite)
	if err != nil {
		return err
	}
	iconHandler, err := icon.NewHandler(e.ContentsStore, e.MediaPoolDir, e.MediaBaseURL, byPkid, e.AltPrefix, themes)
	if err != nil {
		return err
	}

	res := e.extractOne(ctx, pkid, pkg, true, mods, iconHandler)
	if res.genErr != nil {
		return fmt.Errorf("engine: extract %s: %w", pkid, res.genErr)
	}
	zlog.Info(ctx).Str("pkid", string(pkid)).
		Int("components", res.res.ComponentsCount()).
		Int("hints", res.res.HintsCount()).
		Msg("engine: process-file complete")
	return nil
}

// Forget implements the "forget" CLI verb: drop every pkid matching
// prefix from both stores, without re-enumerating any backend.
func (e *Engine) Forget(ctx context.Context, prefix string) (int, error) {
	pkids, err := e.DataStore.GetPkidsMatching(prefix)
	if err != nil {
		return 0, fmt.Errorf("engine: lookup %q: %w", prefix, err)
	}
	for _, pkid := range pkids {
		if err := e.DataStore.RemovePackage(pkid); err != nil {
			return 0, fmt.Errorf("engine: forget %s: %w", pkid, err)
		}
		if err := e.ContentsStore.RemovePackage(pkid); err != nil {
			return 0, fmt.Errorf("engine: forget contents for %s: %w", pkid, err)
		}
	}
	zlog.Info(ctx).Str("prefix", prefix).Int("count", len(pkids)).Msg("engine: forgot packages")
	return len(pkids), nil
}

// RemoveFound implements the "remove-found" CLI verb: re-enumerate the
// named suite's currently-reported pkids across every section and
// architecture and forget exactly those, forcing the next run to
// reprocess the whole suite from scratch.
func (e *Engine) RemoveFound(ctx context.Context, suiteName string) (int, error) {
	suites, err := e.matchingSuites(suiteName)
	if err != nil {
		return 0, err
	}
	if len(suites) != 1 {
		return 0, fmt.Errorf("engine: remove-found requires exactly one suite, got %d", len(suites))
	}
	suite := suites[0]

	var n int
	for _, section := range suite.Sections {
		for _, arch := range suite.Architectures {
			pkgs, err := e.Backend.PackagesFor(ctx, suite.Name, section, arch, false)
			if err != nil {
				e.Backend.Release()
				return n, fmt.Errorf("enumerate %s/%s/%s: %w", suite.Name, section, arch, err)
			}
			for _, pkg := range pkgs {
				pkid := asgen.NewPkid(pkg.Name(), pkg.Version(), pkg.Arch())
				if err := e.DataStore.RemovePackage(pkid); err != nil {
					e.Backend.Release()
					return n, err
				}
				if err := e.ContentsStore.RemovePackage(pkid); err != nil {
					e.Backend.Release()
					return n, err
				}
				n++
			}
			e.Backend.Release()
		}
	}
	zlog.Info(ctx).Str("suite", suite.Name).Int("count", n).Msg("engine: removed found packages")
	return n, nil
}

// PackageInfo is what the "info" CLI verb reports for one pkid.
type PackageInfo struct {
	Pkid  asgen.Pkid
	GCIDs []asgen.GCID
	Hints []byte // raw JSON hints document, if any
}

// Info implements the "info" CLI verb. pkidStr must be a full
// name/version/arch triple; anything less specific is a usage error.
func (e *Engine) Info(pkidStr string) (*PackageInfo, error) {
	pkid := asgen.Pkid(pkidStr)
	if !pkid.Valid() {
		return nil, fmt.Errorf("engine: %q is not a valid pkid; expected name/version/arch", pkidStr)
	}
	gcids, err := e.DataStore.GetGCIDsForPackage(pkid)
	if err != nil {
		return nil, err
	}
	hints, _, err := e.DataStore.GetHints(pkid)
	if err != nil {
		return nil, err
	}
	return &PackageInfo{Pkid: pkid, GCIDs: gcids, Hints: hints}, nil
}
