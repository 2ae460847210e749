// Command asgen is the batch metadata-generation pipeline's CLI front
// end: it loads a workspace's configuration, wires together the
// backend, content/data stores, engine orchestrator and report
// generator, and dispatches one of the top-level verbs against them.
//
// Grounded on cmd/cctool/main.go's flag.NewFlagSet subcommand-dispatch
// shape and signal-driven context cancellation, and on
// cmd/libindexhttp/main.go's zerolog-to-zlog logging setup; pflag
// replaces the teacher's stdlib flag package for long-form flag names
// (--workspace, --export-dir, ...) per the config file's own naming.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/quay/zlog"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/asgen/asgen"
	"github.com/asgen/asgen/backend"
	"github.com/asgen/asgen/backend/alpine"
	"github.com/asgen/asgen/backend/arch"
	"github.com/asgen/asgen/backend/debian"
	"github.com/asgen/asgen/backend/dummy"
	"github.com/asgen/asgen/backend/freebsd"
	"github.com/asgen/asgen/backend/nix"
	"github.com/asgen/asgen/backend/rpmmd"
	"github.com/asgen/asgen/backend/ubuntu"
	"github.com/asgen/asgen/engine"
	"github.com/asgen/asgen/fetch"
	"github.com/asgen/asgen/internal/config"
	"github.com/asgen/asgen/pkgmodel"
	"github.com/asgen/asgen/report"
	"github.com/asgen/asgen/store/contents"
	"github.com/asgen/asgen/store/data"
)

// version is overwritten via -ldflags in release builds.
var version = "dev"

const downloadTimeout = 120 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("asgen", flag.ContinueOnError)
	workspace := fs.String("workspace", ".", "workspace directory")
	configPath := fs.String("config", "", "path to the config file (default: <workspace>/asgen-config.json)")
	exportDir := fs.String("export-dir", "", "override the export directory root")
	force := fs.Bool("force", false, "reprocess packages even if the backend reports no changes")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	showVersion := fs.Bool("version", false, "print the version and exit")
	showHelp := fs.BoolP("help", "h", false, "show this help message")
	fs.Usage = usage(fs)

	switch err := fs.Parse(args); {
	case err == flag.ErrHelp:
		return 0
	case err != nil:
		return 1
	}
	if *showHelp {
		fs.Usage()
		return 0
	}
	if *showVersion {
		fmt.Println("asgen", version)
		return 0
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: false}).With().Timestamp().Logger()
	if *verbose {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}
	zlog.Set(&log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return 1
	}
	verb, verbArgs := rest[0], rest[1:]

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(*workspace, config.DefaultConfigFileName)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		zlog.Error(ctx).Err(err).Msg("asgen: failed to load configuration")
		return 4
	}

	a, err := newApp(cfg, *exportDir)
	if err != nil {
		zlog.Error(ctx).Err(err).Msg("asgen: failed to initialize")
		return 4
	}
	defer a.close()

	if err := a.dispatch(ctx, verb, verbArgs, *force); err != nil {
		zlog.Error(ctx).Err(err).Str("verb", verb).Msg("asgen: command failed")
		return 1
	}
	return 0
}

func usage(fs *flag.FlagSet) func() {
	return func() {
		out := os.Stderr
		fmt.Fprintln(out, "usage: asgen [flags] <verb> [args...]")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "verbs:")
		fmt.Fprintln(out, "  run [SUITE [SECTION]]")
		fmt.Fprintln(out, "  process-file SUITE SECTION FILE...")
		fmt.Fprintln(out, "  publish SUITE [SECTION]")
		fmt.Fprintln(out, "  cleanup")
		fmt.Fprintln(out, "  remove-found SUITE")
		fmt.Fprintln(out, "  forget PKID")
		fmt.Fprintln(out, "  info PKID")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "flags:")
		fs.PrintDefaults()
	}
}

// app bundles the stores, engine and report generator built from one
// loaded Config, so dispatch doesn't need to thread them individually
// through every verb handler.
type app struct {
	cfg           *config.Config
	dataStore     *data.Store
	contentsStore *contents.Store
	eng           *engine.Engine
	gen           *report.Generator
}

func newApp(cfg *config.Config, exportDirOverride string) (*app, error) {
	paths := cfg.Paths(exportDirOverride)
	dirs := []string{
		filepath.Dir(paths.DataDB),
		filepath.Dir(paths.ContentsDB),
		paths.CacheTmp,
		paths.MediaExport,
		paths.DataExport,
		paths.HTMLExport,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	dataStore, err := data.Open(paths.DataDB)
	if err != nil {
		return nil, fmt.Errorf("open data store: %w", err)
	}
	contentsStore, err := contents.Open(paths.ContentsDB)
	if err != nil {
		dataStore.Close()
		return nil, fmt.Errorf("open contents store: %w", err)
	}

	be, err := buildBackend(cfg, paths)
	if err != nil {
		contentsStore.Close()
		dataStore.Close()
		return nil, err
	}

	iconPolicy, err := cfg.IconPolicy()
	if err != nil {
		contentsStore.Close()
		dataStore.Close()
		return nil, err
	}

	eng, err := engine.New(&engine.Options{
		Backend:          be,
		ContentsStore:    contentsStore,
		DataStore:        dataStore,
		Suites:           cfg.Suites(),
		DataExportDir:    paths.DataExport,
		MediaExportDir:   paths.MediaExport,
		HTMLExportDir:    paths.HTMLExport,
		ExtraMetainfoDir: cfg.ExtraMetainfoDir,
		MediaBaseURL:     cfg.MediaBaseURL(),
		Format:           cfg.Format(),
		ComposeFlags:     cfg.ComposeFlags(),
		IconPolicy:       iconPolicy,
	})
	if err != nil {
		contentsStore.Close()
		dataStore.Close()
		return nil, fmt.Errorf("initialize engine: %w", err)
	}

	gen, err := report.New(report.Options{
		DataStore:        dataStore,
		Suites:           cfg.Suites(),
		OldSuites:        cfg.Oldsuites,
		Format:           cfg.Format(),
		HTMLExportDir:    paths.HTMLExport,
		MediaPoolDir:     filepath.Join(paths.MediaExport, "pool"),
		MediaBaseURL:     cfg.MediaBaseURL(),
		RootURL:          cfg.RootURL(),
		ProjectName:      cfg.ProjectName,
		GeneratorVersion: "asgen " + version,
	})
	if err != nil {
		contentsStore.Close()
		dataStore.Close()
		return nil, fmt.Errorf("initialize report generator: %w", err)
	}

	return &app{cfg: cfg, dataStore: dataStore, contentsStore: contentsStore, eng: eng, gen: gen}, nil
}

func (a *app) close() {
	a.contentsStore.Close()
	a.dataStore.Close()
}

// buildBackend constructs the concrete Backend named by cfg.Backend.
// Archive-reading backends share one Downloader built from CAInfo; the
// dummy backend (test/fixture use only) takes no archive root at all.
func buildBackend(cfg *config.Config, paths config.WorkspacePaths) (backend.Backend, error) {
	root := backend.ArchiveRoot{Root: cfg.ArchiveRoot, CAInfo: cfg.CAInfo, MaxDownloadTries: 3}
	dl, err := fetch.New(downloadTimeout, fetch.WithCAInfo(cfg.CAInfo))
	if err != nil {
		return nil, fmt.Errorf("build downloader: %w", err)
	}

	switch cfg.BackendKind() {
	case backend.KindDebian:
		return debian.New(root, dl), nil
	case backend.KindUbuntu:
		return ubuntu.New(root, dl, paths.CacheTmp), nil
	case backend.KindArch:
		return arch.New(root, dl), nil
	case backend.KindRpmMd:
		return rpmmd.New(root, dl), nil
	case backend.KindAlpine:
		return alpine.New(root, dl), nil
	case backend.KindFreeBSD:
		return freebsd.New(root), nil
	case backend.KindNix:
		return nix.New(cfg.ArchiveRoot, paths.CacheTmp), nil
	case backend.KindDummy:
		return dummy.New(nil), nil
	default:
		return nil, fmt.Errorf("asgen: unsupported backend %q", cfg.Backend)
	}
}

func (a *app) dispatch(ctx context.Context, verb string, args []string, force bool) error {
	switch verb {
	case "run":
		return a.cmdRun(ctx, args, force)
	case "process-file":
		return a.cmdProcessFile(ctx, args)
	case "publish":
		return a.cmdPublish(ctx, args)
	case "cleanup":
		return a.eng.Cleanup(ctx)
	case "remove-found":
		return a.cmdRemoveFound(ctx, args)
	case "forget":
		return a.cmdForget(ctx, args)
	case "info":
		return a.cmdInfo(args)
	default:
		return fmt.Errorf("unknown verb %q", verb)
	}
}

func (a *app) cmdRun(ctx context.Context, args []string, force bool) error {
	var suiteName, sectionName string
	switch len(args) {
	case 0:
	case 1:
		suiteName = args[0]
	case 2:
		suiteName, sectionName = args[0], args[1]
	default:
		return fmt.Errorf("run: usage: run [SUITE [SECTION]]")
	}

	stats, err := a.eng.Run(ctx, suiteName, sectionName, force)
	if err != nil {
		return err
	}
	zlog.Info(ctx).
		Int("seeded", stats.PackagesSeeded).
		Int("extracted", stats.PackagesExtracted).
		Int("components", stats.ComponentsWritten).
		Int("hints", stats.HintsRaised).
		Msg("asgen: run finished")

	return a.renderReports(ctx, suiteName, sectionName)
}

func (a *app) cmdProcessFile(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("process-file: usage: process-file SUITE SECTION FILE...")
	}
	suiteName, sectionName, files := args[0], args[1], args[2:]
	for _, f := range files {
		if err := a.eng.ProcessFile(ctx, f, suiteName, sectionName); err != nil {
			return fmt.Errorf("process-file %s: %w", f, err)
		}
	}
	return a.renderReports(ctx, suiteName, sectionName)
}

func (a *app) cmdPublish(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("publish: usage: publish SUITE [SECTION]")
	}
	sectionName := ""
	if len(args) == 2 {
		sectionName = args[1]
	}
	return a.eng.Publish(ctx, args[0], sectionName)
}

func (a *app) cmdRemoveFound(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("remove-found: usage: remove-found SUITE")
	}
	n, err := a.eng.RemoveFound(ctx, args[0])
	if err != nil {
		return err
	}
	zlog.Info(ctx).Int("count", n).Msg("asgen: removed found packages")
	return nil
}

func (a *app) cmdForget(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("forget: usage: forget PKID")
	}
	n, err := a.eng.Forget(ctx, args[0])
	if err != nil {
		return err
	}
	zlog.Info(ctx).Int("count", n).Msg("asgen: forgot packages")
	return nil
}

func (a *app) cmdInfo(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("info: usage: info PKID")
	}
	info, err := a.eng.Info(args[0])
	if err != nil {
		return err
	}
	fmt.Println("pkid:", info.Pkid)
	for _, gcid := range info.GCIDs {
		fmt.Println("  gcid:", gcid)
	}
	if len(info.Hints) > 0 {
		fmt.Println("  hints:", string(info.Hints))
	}
	return nil
}

// renderReports re-renders the HTML report for every (suite, section)
// pair the just-completed run or process-file touched, then refreshes
// the site-wide index pages and statistics.json. Both suiteName and
// sectionName empty means "every configured suite and section".
func (a *app) renderReports(ctx context.Context, suiteName, sectionName string) error {
	for _, suite := range a.cfg.Suites() {
		if suiteName != "" && suite.Name != suiteName {
			continue
		}
		sections := suite.Sections
		if sectionName != "" {
			sections = []string{sectionName}
		}
		for _, section := range sections {
			pkgs, err := a.packagesForSuiteSection(ctx, suite, section)
			if err != nil {
				return fmt.Errorf("gather packages for %s/%s: %w", suite.Name, section, err)
			}
			if err := a.gen.ProcessFor(ctx, suite.Name, section, pkgs); err != nil {
				return fmt.Errorf("render report for %s/%s: %w", suite.Name, section, err)
			}
		}
	}
	if err := a.gen.UpdateIndexPages(ctx); err != nil {
		return fmt.Errorf("update index pages: %w", err)
	}
	return a.gen.ExportStatistics(ctx)
}

func (a *app) packagesForSuiteSection(ctx context.Context, suite *asgen.Suite, section string) ([]pkgmodel.Package, error) {
	var out []pkgmodel.Package
	for _, archName := range suite.Architectures {
		pkgs, err := a.eng.Backend.PackagesFor(ctx, suite.Name, section, archName, true)
		if err != nil {
			return nil, err
		}
		out = append(out, pkgs...)
	}
	return out, nil
}
