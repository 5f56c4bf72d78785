package bootstrap

import (
	"archive/zip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/ysmood/gson"

	"tinytv-converter/internal/config"
	"tinytv-converter/internal/domain"
)

const (
	ffmpegBuildsReleaseURL = "https://api.github.com/repos/BtbN/FFmpeg-Builds/releases/latest"

	installCommandTimeout = 45 * time.Minute
	downloadToolTimeout   = 30 * time.Minute
)

type installOption struct {
	manager  string
	commands [][]string
}

// InstallOrFixDiagnostic applies an OS-specific remediation for one failed diagnostic item.
func (a *App) InstallOrFixDiagnostic(itemID string) (domain.DiagnosticReport, error) {
	if a.Store == nil {
		return domain.DiagnosticReport{}, errors.New("settings store is not configured")
	}

	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, errors.New("diagnostic item id is required")
	}

	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, errors.Wrap(err, "load settings")
	}
	settings = config.Normalize(settings)

	settingsChanged := false
	var fixErr error

	switch id {
	case "tool_ffmpeg", "tool_ffprobe":
		fixErr = installFFmpegForCurrentOS()
	case "output_dir":
		settings, settingsChanged, fixErr = installOrFixOutputDir(settings)
	default:
		return domain.DiagnosticReport{}, errors.Errorf("unsupported diagnostic item id: %s", id)
	}
	if fixErr != nil {
		a.logger().WithError(fixErr).WithField("item", id).Warn("diagnostic fix failed")
	}

	if settingsChanged {
		if saveErr := a.Store.Save(settings); saveErr != nil {
			report := a.refreshDiagnosticsFromSettings(settings)
			return report, errors.Wrap(saveErr, "save settings after fix")
		}
	}

	report := a.refreshDiagnosticsFromSettings(settings)
	return report, fixErr
}

func (a *App) refreshDiagnosticsFromSettings(settings domain.Configuration) domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settings = settings
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(settings)
	}
	return a.Diagnostics
}

func ensureLocalBinOnPATH(homeDir string) error {
	binDir := localBinDir(homeDir)
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}

	current := os.Getenv("PATH")
	for _, entry := range filepath.SplitList(current) {
		if filepath.Clean(entry) == filepath.Clean(binDir) {
			return nil
		}
	}

	if current == "" {
		return os.Setenv("PATH", binDir)
	}
	return os.Setenv("PATH", binDir+string(os.PathListSeparator)+current)
}

func localBinDir(homeDir string) string {
	return filepath.Join(config.AppDir(homeDir), "bin")
}

func installFFmpegForCurrentOS() error {
	var options []installOption

	switch goruntime.GOOS {
	case "windows":
		options = []installOption{
			{
				manager: "winget",
				commands: [][]string{
					{"winget", "install", "--id", "Gyan.FFmpeg", "--exact", "--accept-source-agreements", "--accept-package-agreements"},
				},
			},
			{
				manager:  "choco",
				commands: [][]string{{"choco", "install", "ffmpeg", "-y"}},
			},
			{
				manager:  "scoop",
				commands: [][]string{{"scoop", "install", "ffmpeg"}},
			},
		}
	case "darwin":
		options = []installOption{
			{
				manager:  "brew",
				commands: [][]string{{"brew", "install", "ffmpeg"}},
			},
		}
	default:
		options = []installOption{
			{
				manager: "apt-get",
				commands: [][]string{
					{"apt-get", "update"},
					{"apt-get", "install", "-y", "ffmpeg"},
				},
			},
			{
				manager:  "dnf",
				commands: [][]string{{"dnf", "install", "-y", "ffmpeg"}},
			},
			{
				manager:  "pacman",
				commands: [][]string{{"pacman", "-Sy", "--noconfirm", "ffmpeg"}},
			},
			{
				manager:  "zypper",
				commands: [][]string{{"zypper", "install", "-y", "ffmpeg"}},
			},
			{
				manager:  "brew",
				commands: [][]string{{"brew", "install", "ffmpeg"}},
			},
		}
	}

	installErr := runFirstSuccessfulInstall(options)
	if installErr == nil {
		if err := requireToolsOnPath("ffmpeg", "ffprobe"); err == nil {
			return nil
		}
	}

	// winget installs land on a PATH the running process does not see yet;
	// the portable build goes into the app's own bin dir instead.
	if goruntime.GOOS == "windows" {
		if err := installFFmpegWindowsFromGithubRelease(); err != nil {
			if installErr != nil {
				return errors.Wrapf(err, "install ffmpeg failed: %v | release fallback", installErr)
			}
			return errors.Wrap(err, "release fallback")
		}
		installErr = nil
	}

	if installErr != nil {
		return errors.Wrap(installErr, "install ffmpeg/ffprobe")
	}
	return errors.Wrap(requireToolsOnPath("ffmpeg", "ffprobe"), "verify ffmpeg/ffprobe on PATH")
}

func runFirstSuccessfulInstall(options []installOption) error {
	if len(options) == 0 {
		return errors.Errorf("no install commands configured for OS %s", goruntime.GOOS)
	}

	errorsByManager := make([]string, 0, len(options))
	atLeastOneManager := false

	for _, option := range options {
		if !commandAvailable(option.manager) {
			continue
		}
		atLeastOneManager = true
		err := runInstallCommands(option.commands)
		if err == nil {
			return nil
		}
		errorsByManager = append(errorsByManager, option.manager+": "+err.Error())
	}

	if !atLeastOneManager {
		return errors.Errorf("no supported package manager found for %s", goruntime.GOOS)
	}
	return errors.New(strings.Join(errorsByManager, " | "))
}

func runInstallCommands(commands [][]string) error {
	for _, command := range commands {
		if err := runCommandWithPossibleElevation(command); err != nil {
			return err
		}
	}
	return nil
}

func runCommandWithPossibleElevation(command []string) error {
	if len(command) == 0 {
		return errors.New("empty command")
	}

	candidates := [][]string{command}
	if goruntime.GOOS == "linux" && requiresElevation(command[0]) {
		if commandAvailable("pkexec") {
			candidates = append(candidates, append([]string{"pkexec"}, command...))
		}
		if commandAvailable("sudo") {
			candidates = append(candidates, append([]string{"sudo", "-n"}, command...))
		}
	}

	attemptErrors := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		err := runCommand(candidate[0], candidate[1:]...)
		if err == nil {
			return nil
		}
		attemptErrors = append(attemptErrors, err.Error())
	}

	return errors.New(strings.Join(attemptErrors, " | "))
}

func runCommand(name string, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), installCommandTimeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err == nil {
		return nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Errorf("%s timed out after %s", formatCommand(name, args), installCommandTimeout)
	}

	trimmed := strings.TrimSpace(string(output))
	if len(trimmed) > 500 {
		trimmed = trimmed[:500] + "..."
	}
	if trimmed == "" {
		return errors.Wrapf(err, "%s failed", formatCommand(name, args))
	}
	return errors.Wrapf(err, "%s failed (%s)", formatCommand(name, args), trimmed)
}

func formatCommand(name string, args []string) string {
	return strings.Join(append([]string{name}, args...), " ")
}

func requiresElevation(manager string) bool {
	return lo.Contains([]string{"apt-get", "dnf", "pacman", "zypper"}, manager)
}

func commandAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func requireToolsOnPath(names ...string) error {
	missing := lo.Filter(names, func(name string, _ int) bool {
		return !commandAvailable(name)
	})
	if len(missing) > 0 {
		return errors.Errorf("missing tools on PATH: %s", strings.Join(missing, ", "))
	}
	return nil
}

type githubAsset struct {
	Name string
	URL  string
}

type githubRelease struct {
	TagName string
	Assets  []githubAsset
}

// installFFmpegWindowsFromGithubRelease downloads a static win64 build and
// places ffmpeg.exe and ffprobe.exe in the app's bin dir, which is on PATH.
func installFFmpegWindowsFromGithubRelease() error {
	release, err := fetchGithubRelease(ffmpegBuildsReleaseURL)
	if err != nil {
		return errors.Wrap(err, "fetch latest ffmpeg build metadata")
	}

	assetURL, assetName, err := selectFFmpegWindowsAsset(release)
	if err != nil {
		return err
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return errors.Wrap(err, "resolve user home")
	}

	downloadDir := filepath.Join(config.AppDir(homeDir), "downloads")
	zipPath := filepath.Join(downloadDir, assetName)
	if err := downloadURLToFile(zipPath, assetURL, downloadToolTimeout); err != nil {
		return errors.Wrap(err, "download release asset")
	}
	defer os.Remove(zipPath)

	if _, err := extractFFmpegBinaries(zipPath, localBinDir(homeDir)); err != nil {
		return errors.Wrap(err, "extract ffmpeg release asset")
	}
	return ensureLocalBinOnPATH(homeDir)
}

func fetchGithubRelease(url string) (githubRelease, error) {
	ctx, cancel := context.WithTimeout(context.Background(), downloadToolTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return githubRelease{}, errors.Wrap(err, "build release metadata request")
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "tinytv-converter")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return githubRelease{}, errors.Wrap(err, "request release metadata")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return githubRelease{}, errors.Errorf("release metadata request returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return githubRelease{}, errors.Wrap(err, "read release metadata")
	}
	return parseGithubRelease(body)
}

// parseGithubRelease reads the tag and assets of a GitHub release document.
func parseGithubRelease(body []byte) (githubRelease, error) {
	if !json.Valid(body) {
		return githubRelease{}, errors.New("decode release metadata: not valid JSON")
	}
	doc := gson.New(body)

	release := githubRelease{TagName: strings.TrimSpace(doc.Get("tag_name").Str())}
	if !doc.Has("tag_name") || release.TagName == "" {
		return githubRelease{}, errors.New("release metadata did not include a tag name")
	}
	for _, asset := range doc.Get("assets").Arr() {
		release.Assets = append(release.Assets, githubAsset{
			Name: asset.Get("name").Str(),
			URL:  asset.Get("browser_download_url").Str(),
		})
	}
	return release, nil
}

// selectFFmpegWindowsAsset picks a static (non-shared) win64 zip, preferring GPL builds.
func selectFFmpegWindowsAsset(release githubRelease) (url string, name string, err error) {
	if len(release.Assets) == 0 {
		return "", "", errors.Errorf("release %s has no assets", release.TagName)
	}

	candidates := lo.Filter(release.Assets, func(asset githubAsset, _ int) bool {
		assetName := strings.ToLower(strings.TrimSpace(asset.Name))
		return strings.TrimSpace(asset.URL) != "" &&
			strings.HasSuffix(assetName, ".zip") &&
			strings.Contains(assetName, "win64") &&
			!strings.Contains(assetName, "shared")
	})
	if len(candidates) == 0 {
		return "", "", errors.Errorf("release %s does not contain a static Windows x64 zip asset", release.TagName)
	}

	preferred, ok := lo.Find(candidates, func(asset githubAsset) bool {
		assetName := strings.ToLower(asset.Name)
		return strings.Contains(assetName, "-gpl") && !strings.Contains(assetName, "lgpl")
	})
	if !ok {
		preferred = candidates[0]
	}
	return preferred.URL, preferred.Name, nil
}

func downloadURLToFile(destinationPath string, sourceURL string, timeout time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(destinationPath), 0o755); err != nil {
		return errors.Wrap(err, "prepare destination directory")
	}

	tmpPath := destinationPath + ".download"
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "remove stale temp file")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("User-Agent", "tinytv-converter")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "request download")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "create temporary file")
	}

	_, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(copyErr, "write destination file")
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(closeErr, "close destination file")
	}

	if err := os.Remove(destinationPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "remove old destination file")
	}
	if err := os.Rename(tmpPath, destinationPath); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "move downloaded file into place")
	}

	return nil
}

// extractFFmpegBinaries copies ffmpeg.exe and ffprobe.exe out of a build
// archive into binDir, ignoring the folder layout inside the zip. It
// returns the extracted paths.
func extractFFmpegBinaries(zipPath string, binDir string) ([]string, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	wanted := []string{"ffmpeg.exe", "ffprobe.exe"}
	var extracted []string

	for _, file := range reader.File {
		if file == nil || file.FileInfo().IsDir() {
			continue
		}
		baseName := strings.ToLower(filepath.Base(filepath.Clean(file.Name)))
		if !lo.Contains(wanted, baseName) {
			continue
		}

		targetPath := filepath.Join(binDir, baseName)
		if !isWithinBaseDir(binDir, targetPath) {
			return nil, errors.Errorf("zip contains invalid path: %s", file.Name)
		}
		if err := extractZipFile(file, targetPath); err != nil {
			return nil, err
		}
		extracted = append(extracted, targetPath)
	}

	if missing, _ := lo.Difference(wanted, lo.Map(extracted, func(path string, _ int) string {
		return filepath.Base(path)
	})); len(missing) > 0 {
		return nil, errors.Errorf("archive does not contain %s", strings.Join(missing, ", "))
	}
	return extracted, nil
}

func extractZipFile(file *zip.File, targetPath string) error {
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return err
	}

	src, err := file.Open()
	if err != nil {
		return err
	}

	dst, err := os.OpenFile(targetPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		_ = src.Close()
		return err
	}

	_, copyErr := io.Copy(dst, src)
	srcCloseErr := src.Close()
	dstCloseErr := dst.Close()
	if copyErr != nil {
		return copyErr
	}
	if srcCloseErr != nil {
		return srcCloseErr
	}
	return dstCloseErr
}

func isWithinBaseDir(baseDir string, targetPath string) bool {
	baseClean := filepath.Clean(baseDir)
	targetClean := filepath.Clean(targetPath)
	relative, err := filepath.Rel(baseClean, targetClean)
	if err != nil {
		return false
	}
	return relative == "." || (!strings.HasPrefix(relative, "..") && relative != "")
}

func installOrFixOutputDir(settings domain.Configuration) (domain.Configuration, bool, error) {
	outputDir := strings.TrimSpace(settings.OutputDir)
	changed := false
	if outputDir == "" {
		outputDir = config.DefaultSettings().OutputDir
		settings.OutputDir = outputDir
		changed = true
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return settings, changed, errors.Wrapf(err, "create output directory %s", outputDir)
	}

	return settings, changed, nil
}
