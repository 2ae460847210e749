package nix

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// findExecutable locates name on PATH, matching the other backends'
// exec.LookPath-based external tool probes (e.g. ubuntu's localedef).
func findExecutable(name string) string {
	path, err := exec.LookPath(name)
	if err != nil {
		return ""
	}
	return path
}

// storeEntry is one node of a `nix store ls --json` directory listing.
type storeEntry struct {
	Type    string                `json:"type"`
	Target  string                `json:"target,omitempty"`
	Entries map[string]storeEntry `json:"entries,omitempty"`
}

// nixStoreLs runs `nix store ls --recursive --json` on path and parses the
// resulting directory tree.
func nixStoreLs(ctx context.Context, nixExe, storeURL, path, workDir string) (storeEntry, error) {
	cmd := exec.CommandContext(ctx, nixExe,
		"--extra-experimental-features", "nix-command",
		"store", "ls", "--store", storeURL, "--recursive", "--json", "--quiet", path)
	if workDir != "" {
		cmd.Dir = workDir
	}
	out, err := cmd.Output()
	if err != nil {
		return storeEntry{}, fmt.Errorf("nix: store ls %q: %w", path, err)
	}
	var e storeEntry
	if err := json.Unmarshal(out, &e); err != nil {
		return storeEntry{}, fmt.Errorf("nix: parsing store ls output for %q: %w", path, err)
	}
	return e, nil
}

// nixStoreCat runs `nix store cat` and returns the file's bytes. On
// failure it returns a single space, matching NixPackage::getFileData's
// documented workaround: appstream-compose sometimes requests files it
// already knows don't exist, and panics on a truly empty byte slice.
func nixStoreCat(ctx context.Context, nixExe, storeURL, path, workDir string) []byte {
	cmd := exec.CommandContext(ctx, nixExe,
		"--extra-experimental-features", "nix-command",
		"store", "cat", "--store", storeURL, "--quiet", path)
	if workDir != "" {
		cmd.Dir = workDir
	}
	out, err := cmd.Output()
	if err != nil {
		return []byte{' '}
	}
	return out
}

// nixMeta is the subset of a nix-env package's "meta" object this backend
// reads.
type nixMeta struct {
	Description      string   `json:"description"`
	LongDescription  string   `json:"longDescription"`
	OutputsToInstall []string `json:"outputsToInstall"`
}

// nixPackageEntry is one value of packages.json's top-level "packages" map.
type nixPackageEntry struct {
	Version string            `json:"version"`
	System  string            `json:"system"`
	Outputs map[string]string `json:"outputs"`
	Meta    nixMeta           `json:"meta"`
}

// packagesFile is the wrapped nix-env JSON output this backend caches to
// disk: {"version":2,"packages":{...}}.
type packagesFile struct {
	Version  int                        `json:"version"`
	Packages map[string]nixPackageEntry `json:"packages"`
}

// generatePackagesIfNecessary builds destFilePath by evaluating
// suite/section#path and running nix-env against it, unless the file
// already exists.
func generatePackagesIfNecessary(ctx context.Context, nixExe, nixEnvExe, suite, section, destFilePath string) error {
	if _, err := os.Stat(destFilePath); err == nil {
		return nil
	}
	if nixEnvExe == "" {
		return fmt.Errorf("nix: nix-env binary not found, cannot extract packages.json")
	}

	evalCmd := exec.CommandContext(ctx, nixExe,
		"--extra-experimental-features", "nix-command flakes",
		"eval", "--quiet", fmt.Sprintf("%s/%s#path", suite, section))
	out, err := evalCmd.Output()
	if err != nil {
		return fmt.Errorf("nix: eval failed: %w", err)
	}
	nixpkgsPath := filepath.Clean(strings.TrimSpace(string(out)))

	if err := os.MkdirAll(filepath.Dir(destFilePath), 0o755); err != nil {
		return err
	}

	envCmd := exec.CommandContext(ctx, nixEnvExe,
		"-qaP", "--out-path", "--meta", "--json",
		"--file", nixpkgsPath,
		"--arg", "config", fmt.Sprintf("import %s/pkgs/top-level/packages-config.nix", nixpkgsPath))
	stdout, err := envCmd.StdoutPipe()
	if err != nil {
		return err
	}

	tmpPath := destFilePath + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	defer os.Remove(tmpPath)

	if err := envCmd.Start(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("nix: starting nix-env: %w", err)
	}
	if _, err := tmpFile.WriteString(`{"version":2,"packages":`); err != nil {
		tmpFile.Close()
		return err
	}
	if _, err := io.Copy(tmpFile, stdout); err != nil {
		tmpFile.Close()
		return fmt.Errorf("nix: reading nix-env output: %w", err)
	}
	if _, err := tmpFile.WriteString("}"); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := envCmd.Wait(); err != nil {
		return fmt.Errorf("nix: nix-env failed: %w", err)
	}

	return os.Rename(tmpPath, destFilePath)
}

// skipAttrPrefix matches attribute-set namespaces that are large and
// virtually never carry their own AppStream data, mirroring
// getInterestingNixPkgs's skipPrefixRegex.
var skipAttrPrefix = regexp.MustCompile(
	`^(python3.*Packages|haskellPackages|rPackages|emacsPackages|sbclPackages|texlivePackages|typstPackages` +
		`|vimPlugins|linuxKernel|perl5Packages|ocamlPackages.*|rubyPackages.*|lua\d*Packages|luajitPackages` +
		`|nodePackages.*|php\d*Extensions|phpExtensions|androidenv|chickenPackages.*|vscode-extensions` +
		`|akkuPackages|azure-cli-extensions|terraform-providers|tree-sitter-grammars|hunspellDicts` +
		`|aspellDicts|hyphenDicts|nltk-data|dotnetCorePackages|coqPackages|idrisPackages|rocmPackages` +
		`|kodiPackages|darwin)\.`)

var variantSuffix = regexp.MustCompile(`-(full|minimal|unwrapped|wrapped|unstable|bin|gtk|sdl|wayland|xine|nox|pgtk)$`)

// packagePriority scores an attribute name for tie-breaking when more than
// one attribute resolves to the same store path; lower scores win.
func packagePriority(name string) int {
	score := len(name)

	switch {
	case strings.HasPrefix(name, "qt6Packages.") || strings.HasPrefix(name, "kdePackages.") ||
		strings.Contains(name, "-qt6") || strings.Contains(name, "_qt6"):
		score -= 50
	case strings.HasPrefix(name, "libsForQt5.") || strings.Contains(name, "-qt5") || strings.Contains(name, "_qt5"):
		score += 50
	}

	dotCount := strings.Count(name, ".")
	if dotCount > 0 &&
		!strings.HasPrefix(name, "qt6Packages.") &&
		!strings.HasPrefix(name, "kdePackages.") &&
		!strings.HasPrefix(name, "libsForQt5.") {
		score += dotCount * 20
	}

	if variantSuffix.MatchString(name) {
		score += 30
	}

	return score
}

// splitAttrOutput splits "pkg.attr.out" into its attribute ("pkg.attr")
// and output name ("out"), defaulting to output "out" when attr has no
// dotted suffix.
func splitAttrOutput(attr string) (pkgAttr, output string) {
	idx := strings.LastIndex(attr, ".")
	if idx < 0 {
		return attr, "out"
	}
	return attr[:idx], attr[idx+1:]
}
