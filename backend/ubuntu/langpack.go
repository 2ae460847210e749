package ubuntu

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chai2010/gettext-go"
	"github.com/quay/zlog"

	"github.com/asgen/asgen/pkgmodel"
)

// gettextMu serializes every call into the process-global state
// chai2010/gettext-go keeps (bound domain, active locale) — the Go
// equivalent of the original's mutex around setlocale/bindtextdomain/
// dgettext, per spec §5/§9's "serialized behind a global lock" note.
var gettextMu sync.Mutex

// languagePackProvider extracts language-pack-* packages once per
// repository scan, generates the locales they declare via localedef, and
// resolves desktop-entry gettext lookups against the extracted
// translations. Grounded on original_source's LanguagePackProvider.
type languagePackProvider struct {
	langpackDir   string
	localeDir     string
	localedefPath string // "" if localedef isn't on PATH

	mu      sync.Mutex
	pending []pkgmodel.Package
	locales []string
}

func newLanguagePackProvider(globalTmpDir string) *languagePackProvider {
	localedefPath, err := exec.LookPath("localedef")
	if err != nil {
		localedefPath = ""
	}
	langpackDir := filepath.Join(globalTmpDir, "langpacks")
	return &languagePackProvider{
		langpackDir:   langpackDir,
		localeDir:     filepath.Join(langpackDir, "locales"),
		localedefPath: localedefPath,
	}
}

func (p *languagePackProvider) addLanguagePacks(pkgs []pkgmodel.Package) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, pkgs...)
}

// extractLangpacks materializes every pending language-pack package to
// disk and generates its locales. It's a no-op once langpackDir already
// exists, mirroring the original's fs::exists short-circuit. Callers must
// hold p.mu.
func (p *languagePackProvider) extractLangpacks(ctx context.Context) {
	if _, err := os.Stat(p.langpackDir); err == nil {
		return
	}
	if err := os.MkdirAll(p.langpackDir, 0o755); err != nil {
		zlog.Warn(ctx).Err(err).Msg("ubuntu: could not create langpack directory")
		return
	}

	extracted := map[string]bool{}
	for _, pkg := range p.pending {
		if extracted[pkg.Name()] {
			continue
		}
		zlog.Debug(ctx).Str("package", pkg.Name()).Msg("ubuntu: extracting language pack")
		if err := extractPackageTo(pkg, p.langpackDir); err != nil {
			zlog.Warn(ctx).Err(err).Str("package", pkg.Name()).Msg("ubuntu: failed to extract language pack")
			continue
		}
		extracted[pkg.Name()] = true
	}

	if err := os.MkdirAll(p.localeDir, 0o755); err != nil {
		zlog.Warn(ctx).Err(err).Msg("ubuntu: could not create locale directory")
		return
	}
	if len(extracted) == 0 {
		zlog.Warn(ctx).Msg("ubuntu: extracted no language packs for this repository")
		p.pending = nil
		return
	}

	supportedDir := filepath.Join(p.langpackDir, "var", "lib", "locales", "supported.d")
	entries, err := os.ReadDir(supportedDir)
	if err != nil {
		zlog.Warn(ctx).Err(err).Str("dir", supportedDir).Msg("ubuntu: no supported locales directory found in language packs")
		p.pending = nil
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		p.generateLocalesFrom(ctx, filepath.Join(supportedDir, entry.Name()))
	}
	p.pending = nil

	if dirs, err := os.ReadDir(p.localeDir); err == nil {
		for _, d := range dirs {
			if d.IsDir() {
				p.locales = append(p.locales, d.Name())
			}
		}
	}
}

// generateLocalesFrom reads one supported.d locale-definition file ("en_US.UTF-8 UTF-8"
// per line) and invokes localedef for each entry, matching the original's
// `localedef --no-archive -i <charset> -c -f <encoding> <outdir>` invocation.
func (p *languagePackProvider) generateLocalesFrom(ctx context.Context, localeFile string) {
	f, err := os.Open(localeFile)
	if err != nil {
		return
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(strings.TrimSpace(sc.Text()))
		if len(fields) < 2 {
			continue
		}
		localeName, encoding := fields[0], fields[1]
		charset := strings.SplitN(localeName, ".", 2)[0]
		outDir := filepath.Join(p.localeDir, localeName)

		if p.localedefPath == "" {
			zlog.Warn(ctx).Str("locale", localeName).Msg("ubuntu: not generating locale: localedef binary is missing")
			continue
		}
		cmd := exec.CommandContext(ctx, p.localedefPath, "--no-archive", "-i", charset, "-c", "-f", encoding, outDir)
		if out, err := cmd.CombinedOutput(); err != nil {
			zlog.Debug(ctx).Err(err).Str("locale", localeName).Str("output", string(out)).Msg("ubuntu: failed to generate locale")
		}
	}
}

// getTranslations returns, for every locale the extracted language packs
// provide, the gettext translation of text in domain; entries identical to
// text (i.e. untranslated) are omitted.
func (p *languagePackProvider) getTranslations(ctx context.Context, domain, text string) map[string]string {
	gettextMu.Lock()
	defer gettextMu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.extractLangpacks(ctx)
	if len(p.locales) == 0 {
		return nil
	}

	translationDir := filepath.Join(p.langpackDir, "usr", "share", "locale-langpack")
	result := make(map[string]string)
	for _, locale := range p.locales {
		gettext.SetLocale(locale)
		gettext.SetDomain(domain)
		gettext.BindLocale(gettext.New(domain, translationDir))
		translated := gettext.Gettext(text)
		if translated != "" && translated != text {
			result[locale] = translated
		}
	}
	return result
}

// extractPackageTo writes every file pkg.Contents() lists to dest,
// preserving the archive's directory layout, reading each one through
// pkg.FileData. This stands in for the original's bulk
// DebPackage::extractPackage, generalized since pkgmodel.Package only
// exposes per-file reads rather than a whole-archive extraction handle.
func extractPackageTo(pkg pkgmodel.Package, dest string) error {
	files, err := pkg.Contents()
	if err != nil {
		return fmt.Errorf("ubuntu: listing contents of %s: %w", pkg.Name(), err)
	}
	for _, name := range files {
		data, err := pkg.FileData(name)
		if err != nil {
			return fmt.Errorf("ubuntu: reading %q from %s: %w", name, pkg.Name(), err)
		}
		target := filepath.Join(dest, filepath.FromSlash(strings.TrimPrefix(name, "/")))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("ubuntu: preparing %q: %w", target, err)
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return fmt.Errorf("ubuntu: writing %q: %w", target, err)
		}
	}
	return nil
}
