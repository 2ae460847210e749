// Package engine implements the engine orchestrator (spec §4.11, C11):
// the top-level verb set (run, process-file, publish, cleanup,
// remove-found, forget, info) that drives a Backend across every
// configured suite/section/architecture, feeding the extractor (C8) and
// the content/data stores (C5/C6).
//
// Grounded on original_source/src/engine.cpp's DataGenerator run loop and
// libindex.Libindex's "Opts are dependencies for constructing an
// instance of X, with a Parse() for defaults" shape (libindex/opts.go,
// libindex/libindex.go); the bounded per-package worker pool mirrors
// indexer/controller/layerindexer.go's semaphore.Weighted idiom, adapted
// so a per-package failure becomes a hint rather than aborting the pool.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/quay/zlog"
	"golang.org/x/sync/semaphore"

	"github.com/asgen/asgen"
	"github.com/asgen/asgen/backend"
	"github.com/asgen/asgen/extract"
	"github.com/asgen/asgen/extract/compose"
	"github.com/asgen/asgen/icon"
	"github.com/asgen/asgen/internal/baggageutil"
	"github.com/asgen/asgen/internal/metrics"
	"github.com/asgen/asgen/modifications"
	"github.com/asgen/asgen/pkgmodel"
	"github.com/asgen/asgen/result"
	"github.com/asgen/asgen/store/contents"
	"github.com/asgen/asgen/store/data"
)

// ComposeEngineFactory builds a fresh compose.Engine. The engine
// orchestrator calls this once per extraction worker, never sharing one
// compose.Engine across goroutines, since spec §5 requires "one
// extractor instance per worker thread".
type ComposeEngineFactory func() compose.Engine

// DefaultParallelism is used when Options.Parallelism is left at zero,
// matching spec §5's "bounded: default: hardware concurrency" rule
// loosely: callers are expected to size this from runtime.NumCPU()
// themselves (the engine package stays policy-free about the host's CPU
// count), but a small default keeps a zero-value Options usable in
// tests.
const DefaultParallelism = 4

// Options are the dependencies and tunables the engine needs, following
// libindex's Opts/Parse() shape.
type Options struct {
	Backend       backend.Backend
	ContentsStore *contents.Store
	DataStore     *data.Store
	Suites        []*asgen.Suite

	// DataExportDir, MediaExportDir and HTMLExportDir are
	// "<export>/data", "<export>/media" and "<export>/html" per spec
	// §6's persistent layout. MediaPoolDir defaults to
	// "<MediaExportDir>/pool".
	DataExportDir    string
	MediaExportDir   string
	MediaPoolDir     string
	HTMLExportDir    string
	ExtraMetainfoDir string // base directory; the suite name is joined under it
	MediaBaseURL     string
	AltPrefix        string

	Format           data.MetadataFormat
	ComposeFlags     compose.Flags
	IconPolicy       icon.PolicyConfig
	UpscaleIcons     bool
	ProcessGStreamer bool

	// NewComposeEngine defaults to wrapping compose.NewDefaultEngine.
	NewComposeEngine ComposeEngineFactory
	// ThemesForSuite resolves the extra icon themes (beyond the
	// mandatory hicolor fallback) a suite's candidate packages make
	// available. Left nil, only hicolor is searched — packaged-theme
	// discovery is a config-layer concern this package exposes a hook
	// for rather than implements (see DESIGN.md).
	ThemesForSuite func(suite *asgen.Suite) ([]*icon.Theme, error)

	Parallelism int64
}

// Parse fills in defaults and validates required fields, mirroring
// libindex.Opts.Parse.
func (o *Options) Parse() error {
	if o.Backend == nil {
		return fmt.Errorf("engine: Backend not provided")
	}
	if o.ContentsStore == nil || o.DataStore == nil {
		return fmt.Errorf("engine: ContentsStore and DataStore are required")
	}
	if o.MediaPoolDir == "" && o.MediaExportDir != "" {
		o.MediaPoolDir = filepath.Join(o.MediaExportDir, "pool")
	}
	if o.NewComposeEngine == nil {
		o.NewComposeEngine = func() compose.Engine { return compose.NewDefaultEngine() }
	}
	if o.Parallelism <= 0 {
		o.Parallelism = DefaultParallelism
	}
	return nil
}

// Engine is the C11 orchestrator.
type Engine struct {
	*Options

	modsMu sync.Mutex
	mods   map[string]*modifications.Store // keyed by suite name
}

// New constructs an Engine, calling Options.Parse for defaults.
func New(opts *Options) (*Engine, error) {
	if err := opts.Parse(); err != nil {
		return nil, err
	}
	return &Engine{Options: opts, mods: map[string]*modifications.Store{}}, nil
}

// modificationsFor lazily loads and caches the modifications.Store for
// suite, per spec §4.10's "loaded once per suite".
func (e *Engine) modificationsFor(suite *asgen.Suite) (*modifications.Store, error) {
	e.modsMu.Lock()
	defer e.modsMu.Unlock()
	if m, ok := e.mods[suite.Name]; ok {
		return m, nil
	}
	m := modifications.New()
	if e.ExtraMetainfoDir != "" {
		if err := m.LoadForSuite(e.ExtraMetainfoDir, suite.Name); err != nil {
			return nil, err
		}
	}
	e.mods[suite.Name] = m
	return m, nil
}

// matchingSuites returns the configured suites to operate over, filtered
// by name when suiteName is non-empty, ordered by descending
// DataPriority (spec.md's "dataPriority suite ordering").
func (e *Engine) matchingSuites(suiteName string) ([]*asgen.Suite, error) {
	var out []*asgen.Suite
	for _, s := range e.Suites {
		if suiteName == "" || s.Name == suiteName {
			out = append(out, s)
		}
	}
	if suiteName != "" && len(out) == 0 {
		return nil, fmt.Errorf("engine: unknown suite %q", suiteName)
	}
	asgen.SortSuitesByPriority(out)
	return out, nil
}

func sectionsFor(suite *asgen.Suite, sectionName string) ([]string, error) {
	if sectionName == "" {
		return suite.Sections, nil
	}
	if !suite.HasSection(sectionName) {
		return nil, fmt.Errorf("engine: suite %q has no section %q", suite.Name, sectionName)
	}
	return []string{sectionName}, nil
}

// RunStats summarizes one Run invocation, returned so cmd/asgen can log
// a final tally and so tests can assert on outcomes without re-reading
// the stores.
type RunStats struct {
	PackagesSeeded    int
	PackagesExtracted int
	ComponentsWritten int
	HintsRaised       int
}

// Run implements the "run" CLI verb: seed then extract every matching
// (suite, section, architecture) triple. When both suiteName and
// sectionName are empty this is a full-archive run, and the stale
// packages sweep (spec §4.11 "Cleanup") also runs at the end, since only
// a full run knows the complete currently-advertised pkid set; a scoped
// run leaves that sweep to the standalone "cleanup" verb.
func (e *Engine) Run(ctx context.Context, suiteName, sectionName string, force bool) (*RunStats, error) {
	scanID := uuid.New().String()
	ctx = baggageutil.ContextWithValues(ctx, "scan_id", scanID)
	zlog.Info(ctx).Str("suite", suiteName).Str("section", sectionName).Bool("force", force).Msg("engine: run starting")

	suites, err := e.matchingSuites(suiteName)
	if err != nil {
		return nil, err
	}

	stats := &RunStats{}
	seen := map[asgen.Pkid]bool{}
	fullRun := suiteName == "" && sectionName == ""

	for _, suite := range suites {
		sections, err := sectionsFor(suite, sectionName)
		if err != nil {
			return nil, err
		}
		mods, err := e.modificationsFor(suite)
		if err != nil {
			return nil, fmt.Errorf("engine: load modifications for suite %s: %w", suite.Name, err)
		}
		for _, section := range sections {
			for _, arch := range suite.Architectures {
				sctx := baggageutil.ContextWithValues(ctx, "suite", suite.Name, "section", section, "arch", arch)
				if err := e.runOne(sctx, suite, section, arch, force, mods, seen, stats); err != nil {
					return stats, fmt.Errorf("engine: %s/%s/%s: %w", suite.Name, section, arch, err)
				}
			}
		}
	}

	if fullRun {
		if err := e.cleanupStale(ctx, seen); err != nil {
			return stats, fmt.Errorf("engine: stale package sweep: %w", err)
		}
	}
	zlog.Info(ctx).
		Int("seeded", stats.PackagesSeeded).
		Int("extracted", stats.PackagesExtracted).
		Int("components", stats.ComponentsWritten).
		Int("hints", stats.HintsRaised).
		Msg("engine: run complete")
	return stats, nil
}

// runOne seeds and extracts a single (suite, section, arch) triple.
func (e *Engine) runOne(ctx context.Context, suite *asgen.Suite, section, arch string, force bool, mods *modifications.Store, seen map[asgen.Pkid]bool, stats *RunStats) (err error) {
	done := metrics.StageTimer(suite.Name, section, "extract")
	defer func() { done(err) }()

	changed, err := e.Backend.HasChanges(ctx, e.DataStore, suite.Name, section, arch)
	if err != nil {
		zlog.Warn(ctx).Err(err).Msg("engine: HasChanges check failed, processing anyway")
		changed = true
	}
	if !changed && !force {
		zlog.Debug(ctx).Msg("engine: no changes, skipping")
		return nil
	}

	pkgs, err := e.Backend.PackagesFor(ctx, suite.Name, section, arch, true)
	if err != nil {
		zlog.Warn(ctx).Err(err).Msg("engine: PackagesFor failed, skipping section")
		return nil
	}
	defer e.Backend.Release()

	byPkid := make(map[asgen.Pkid]pkgmodel.Package, len(pkgs)+1)
	for _, pkg := range pkgs {
		pkid := asgen.NewPkid(pkg.Name(), pkg.Version(), pkg.Arch())
		byPkid[pkid] = pkg
		seen[pkid] = true
	}

	fake, fakePkid, err := e.buildFakePackage(suite, arch)
	if err != nil {
		return fmt.Errorf("inject extra-metainfo package: %w", err)
	}
	if fake != nil {
		byPkid[fakePkid] = fake
		seen[fakePkid] = true
	}

	seeded, err := e.seed(ctx, byPkid, force)
	if err != nil {
		return err
	}
	stats.PackagesSeeded += seeded

	themes, err := e.resolveThemes(suite)
	if err != nil {
		return fmt.Errorf("resolve icon themes: %w", err)
	}
	iconHandler, err := icon.NewHandler(e.ContentsStore, e.MediaPoolDir, e.MediaBaseURL, byPkid, e.AltPrefix, themes)
	if err != nil {
		return fmt.Errorf("build icon handler: %w", err)
	}

	extracted, components, hints, err := e.extractAll(ctx, suite.Name, section, byPkid, force, mods, iconHandler)
	stats.PackagesExtracted += extracted
	stats.ComponentsWritten += components
	stats.HintsRaised += hints
	if err != nil {
		return err
	}
	return nil
}

// resolveThemes calls ThemesForSuite when configured, walking the
// suite's BaseSuite chain so an inheriting suite picks up its parent's
// theme too (spec.md §3 "a suite declares a baseSuite (for icon-theme
// inheritance)"). Cycles are cut off defensively; suite configuration is
// expected to be acyclic.
func (e *Engine) resolveThemes(suite *asgen.Suite) ([]*icon.Theme, error) {
	if e.ThemesForSuite == nil {
		return nil, nil
	}
	var out []*icon.Theme
	visited := map[string]bool{}
	for s := suite; s != nil && !visited[s.Name]; {
		visited[s.Name] = true
		themes, err := e.ThemesForSuite(s)
		if err != nil {
			return nil, err
		}
		out = append(out, themes...)
		if s.BaseSuite == "" {
			break
		}
		var next *asgen.Suite
		for _, cand := range e.Suites {
			if cand.Name == s.BaseSuite {
				next = cand
				break
			}
		}
		s = next
	}
	return out, nil
}

// isInteresting reports whether paths contains at least one file the
// seeding step considers worth extracting later: a desktop entry, an
// AppStream metainfo document, or an icon under a known theme/pixmap
// location (spec §4.11's "no interesting files" test).
func isInteresting(paths []string) bool {
	for _, p := range paths {
		switch {
		case strings.HasPrefix(p, "/usr/share/applications/") && strings.HasSuffix(p, ".desktop"):
			return true
		case strings.HasPrefix(p, "/usr/share/metainfo/") &&
			(strings.HasSuffix(p, ".metainfo.xml") || strings.HasSuffix(p, ".appdata.xml")):
			return true
		case strings.HasPrefix(p, "/usr/share/icons/"), strings.HasPrefix(p, "/usr/share/pixmaps/"):
			return true
		}
	}
	return false
}

// seed implements spec §4.11's "Seeding" paragraph: record contents for
// packages the data store hasn't seen yet (or all of them, when forced),
// marking uninteresting ones "ignore" so extraction skips them outright.
func (e *Engine) seed(ctx context.Context, byPkid map[asgen.Pkid]pkgmodel.Package, force bool) (int, error) {
	var seeded int
	for pkid, pkg := range byPkid {
		known, err := e.DataStore.PackageKnown(pkid)
		if err != nil {
			return seeded, fmt.Errorf("seed: check %s: %w", pkid, err)
		}
		if known && !force {
			continue
		}

		paths, err := pkg.Contents()
		if err != nil {
			zlog.Warn(ctx).Err(err).Str("pkid", string(pkid)).Msg("engine: seed: reading contents failed")
			continue
		}
		if err := e.ContentsStore.AddContents(ctx, pkid, paths); err != nil {
			return seeded, fmt.Errorf("seed: store contents for %s: %w", pkid, err)
		}
		seeded++

		if !isInteresting(paths) {
			if err := e.DataStore.AddGeneratorResult(ctx, e.Format, pkid, data.GeneratorResult{}, force); err != nil {
				return seeded, fmt.Errorf("seed: mark %s ignored: %w", pkid, err)
			}
		}
	}
	return seeded, nil
}

// extractionResult is what one worker reports back for one package.
type extractionResult struct {
	pkid    asgen.Pkid
	res     *result.Result
	genErr  error
	genDone bool
}

// extractAll runs the extractor, bounded to e.Parallelism concurrent
// packages, over every package in byPkid that needs (re)processing.
// Per-package failures are converted into an internal-error hint and
// recorded rather than aborting the pool, per spec §4.11's "tolerate
// per-package exceptions" rule.
func (e *Engine) extractAll(ctx context.Context, suiteName, section string, byPkid map[asgen.Pkid]pkgmodel.Package, force bool, mods *modifications.Store, iconHandler *icon.Handler) (extracted, components, hints int, err error) {
	type job struct {
		pkid asgen.Pkid
		pkg  pkgmodel.Package
	}
	var jobs []job
	for pkid, pkg := range byPkid {
		known, kerr := e.DataStore.PackageKnown(pkid)
		if kerr != nil {
			return 0, 0, 0, fmt.Errorf("extractAll: check %s: %w", pkid, kerr)
		}
		// seed already marked uninteresting packages "ignore" (making them
		// known with no gcids), so this single check both skips packages
		// extracted in a previous run and packages seed just disqualified.
		if known && !force {
			continue
		}
		jobs = append(jobs, job{pkid: pkid, pkg: pkg})
	}
	if len(jobs) == 0 {
		return 0, 0, 0, nil
	}

	sem := semaphore.NewWeighted(e.Parallelism)
	results := make(chan extractionResult, len(jobs))
	var wg sync.WaitGroup
	for _, j := range jobs {
		if err := sem.Acquire(ctx, 1); err != nil {
			return extracted, components, hints, fmt.Errorf("extractAll: %w", err)
		}
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			defer sem.Release(1)
			results <- e.extractOne(ctx, j.pkid, j.pkg, force, mods, iconHandler)
		}(j)
	}
	wg.Wait()
	close(results)

	for r := range results {
		extracted++
		metrics.PackageProcessed(suiteName, section)
		if r.genErr != nil {
			zlog.Error(ctx).Err(r.genErr).Str("pkid", string(r.pkid)).Msg("engine: extraction failed")
			continue
		}
		if !r.genDone {
			continue
		}
		components += r.res.ComponentsCount()
		hints += r.res.HintsCount()
	}
	return extracted, components, hints, nil
}

// extractOne runs the extractor for one package and writes its result to
// the data store, converting a hard extractor failure into a synthetic
// hint so the run continues (spec §7 propagation policy: "the engine
// catches extraction exceptions per-package and converts them into
// internal-error hints").
func (e *Engine) extractOne(ctx context.Context, pkid asgen.Pkid, pkg pkgmodel.Package, force bool, mods *modifications.Store, iconHandler *icon.Handler) extractionResult {
	ex := extract.NewExtractor(e.NewComposeEngine(), iconHandler, e.DataStore, e.Format)
	ex.Mods = mods
	ex.ComposeFlags = e.ComposeFlags
	ex.IconPolicy = e.IconPolicy
	ex.UpscaleIcons = e.UpscaleIcons
	ex.ProcessGStreamer = e.ProcessGStreamer

	res, err := ex.ProcessPackage(ctx, pkid, pkg)
	if err != nil {
		res = result.New(pkid)
		res.AddHintMessage("", "internal-error", err.Error())
	}

	genResult, gerr := res.ToGeneratorResult(e.Format)
	if gerr != nil {
		return extractionResult{pkid: pkid, res: res, genErr: fmt.Errorf("serialize result for %s: %w", pkid, gerr)}
	}
	if aerr := e.DataStore.AddGeneratorResult(ctx, e.Format, pkid, genResult, force); aerr != nil {
		return extractionResult{pkid: pkid, res: res, genErr: fmt.Errorf("store result for %s: %w", pkid, aerr)}
	}
	return extractionResult{pkid: pkid, res: res, genDone: true}
}

// buildFakePackage synthesizes the injected extra-metainfo package (spec
// §4.11 "Injected extra-metainfo package") from the files under the
// suite's extra-metainfo directory, when configured. Its contents are
// read straight off local disk, not through an archive Unit, since the
// extra-metainfo tree is maintained directly by the repository owner.
func (e *Engine) buildFakePackage(suite *asgen.Suite, arch string) (pkgmodel.Package, asgen.Pkid, error) {
	dir := suite.ExtraMetainfoDir
	if dir == "" && e.ExtraMetainfoDir != "" {
		dir = filepath.Join(e.ExtraMetainfoDir, suite.Name)
	}
	if dir == "" {
		return nil, "", nil
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("stat extra-metainfo dir %s: %w", dir, err)
	}

	fake := pkgmodel.NewFake("0", arch, func() ([]string, error) {
		var out []string
		err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			rel, rerr := filepath.Rel(dir, p)
			if rerr != nil {
				return rerr
			}
			out = append(out, "/"+filepath.ToSlash(rel))
			return nil
		})
		return out, err
	}, func(path string) ([]byte, error) {
		return os.ReadFile(filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(path, "/"))))
	}, nil)

	pkid := asgen.NewPkid(fake.Name(), fake.Version(), fake.Arch())
	return fake, pkid, nil
}

// cleanupStale implements the tail end of spec §4.11's "Cleanup"
// paragraph for a full run: any pkid the content store still knows about
// but that wasn't advertised by this run is forgotten from both stores,
// then CleanupCruft sweeps the now-orphaned metadata and media.
func (e *Engine) cleanupStale(ctx context.Context, seen map[asgen.Pkid]bool) error {
	known, err := e.ContentsStore.GetPackageIDSet()
	if err != nil {
		return err
	}
	var stale []asgen.Pkid
	for pkid := range known {
		if !seen[pkid] {
			stale = append(stale, pkid)
		}
	}
	if len(stale) > 0 {
		zlog.Info(ctx).Int("count", len(stale)).Msg("engine: dropping stale packages")
		if err := e.ContentsStore.RemovePackages(stale); err != nil {
			return err
		}
		for _, pkid := range stale {
			if err := e.DataStore.RemovePackage(pkid); err != nil {
				return err
			}
		}
	}
	return e.DataStore.CleanupCruft(ctx, e.MediaExportDir, e.Suites)
}

// Cleanup implements the standalone "cleanup" CLI verb: drop orphaned
// metadata/media without re-enumerating any backend. Unlike the sweep
// folded into a full Run, this never forgets packages, since it has no
// freshly-enumerated pkid set to compare against.
func (e *Engine) Cleanup(ctx context.Context) error {
	return e.DataStore.CleanupCruft(ctx, e.MediaExportDir, e.Suites)
}
