// Package update implements termhub's self-update: check a GitHub release
// feed, compare versions with semver, and replace the running binary.
package update

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/termhub/termhub/internal/version"
)

const (
	githubAPILatestRelease    = "https://api.github.com/repos/termhub/termhub/releases/latest"
	githubReleaseBinaryFmt    = "https://github.com/termhub/termhub/releases/download/v%s/termhub-%s-%s"
	githubReleaseChecksumsFmt = "https://github.com/termhub/termhub/releases/download/v%s/checksums.txt"

	httpTimeout = 30 * time.Second
)

var httpClient = &http.Client{Timeout: httpTimeout}

// Result reports what Run did.
type Result struct {
	PreviousVersion string
	NewVersion      string
	Updated         bool
}

// Run checks for a newer release and, if found, downloads, verifies, and
// installs it in place of the running binary. Run never restarts the
// process itself; the caller prompts the supervisor for a clean restart.
func Run() (Result, error) {
	current := version.Version
	if current == "dev" {
		return Result{}, fmt.Errorf("update: cannot update a dev build, build from source instead")
	}
	if err := checkPlatformSupport(); err != nil {
		return Result{}, err
	}

	latest, available, err := CheckForUpdate()
	if err != nil {
		return Result{}, fmt.Errorf("update: check latest release: %w", err)
	}
	if !available {
		return Result{PreviousVersion: current, NewVersion: latest}, nil
	}

	checksums, err := downloadChecksums(latest)
	if err != nil {
		return Result{}, fmt.Errorf("update: download checksums: %w", err)
	}
	if err := downloadAndInstallBinary(latest, checksums); err != nil {
		return Result{}, fmt.Errorf("update: install binary: %w", err)
	}

	return Result{PreviousVersion: current, NewVersion: latest, Updated: true}, nil
}

// CheckForUpdate reports the latest published version and whether it is
// newer than the running binary, without installing anything.
func CheckForUpdate() (latestVersion string, updateAvailable bool, err error) {
	current := version.Version
	if current == "dev" {
		return "", false, nil
	}

	latest, err := latestReleaseTag()
	if err != nil {
		return "", false, err
	}

	vLatest, errLatest := semver.NewVersion("v" + latest)
	vCurrent, errCurrent := semver.NewVersion("v" + current)
	if errLatest != nil || errCurrent != nil {
		return latest, false, nil
	}
	return latest, vLatest.GreaterThan(vCurrent), nil
}

func checkPlatformSupport() error {
	supported := map[string][]string{
		"darwin": {"amd64", "arm64"},
		"linux":  {"amd64", "arm64"},
	}
	archs, ok := supported[runtime.GOOS]
	if !ok {
		return fmt.Errorf("update: unsupported operating system %s", runtime.GOOS)
	}
	for _, a := range archs {
		if a == runtime.GOARCH {
			return nil
		}
	}
	return fmt.Errorf("update: unsupported architecture %s/%s", runtime.GOOS, runtime.GOARCH)
}

func latestReleaseTag() (string, error) {
	resp, err := httpClient.Get(githubAPILatestRelease)
	if err != nil {
		return "", fmt.Errorf("fetch latest release: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("github api rate limit exceeded")
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("github api returned %s", resp.Status)
	}

	var release struct {
		TagName string `json:"tag_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", fmt.Errorf("parse release info: %w", err)
	}
	if release.TagName == "" {
		return "", fmt.Errorf("no release tag found")
	}
	return strings.TrimPrefix(release.TagName, "v"), nil
}

func downloadChecksums(ver string) (map[string]string, error) {
	url := fmt.Sprintf(githubReleaseChecksumsFmt, ver)
	resp, err := httpClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: %s", resp.Status)
	}

	checksums := make(map[string]string)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) >= 2 {
			checksums[parts[len(parts)-1]] = parts[0]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse checksums: %w", err)
	}
	return checksums, nil
}

func downloadAndInstallBinary(ver string, checksums map[string]string) error {
	goos, goarch := runtime.GOOS, runtime.GOARCH
	binaryName := fmt.Sprintf("termhub-%s-%s", goos, goarch)

	expectedHash, ok := checksums[binaryName]
	if !ok {
		return fmt.Errorf("no checksum found for %s", binaryName)
	}

	url := fmt.Sprintf(githubReleaseBinaryFmt, ver, goos, goarch)

	tmpFile, err := os.CreateTemp("", "termhub-update-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	resp, err := httpClient.Get(url)
	if err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("download: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		_ = tmpFile.Close()
		return fmt.Errorf("download failed: %s", resp.Status)
	}

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmpFile, hasher), resp.Body); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("save download: %w", err)
	}
	_ = tmpFile.Close()

	actualHash := hex.EncodeToString(hasher.Sum(nil))
	if actualHash != expectedHash {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", expectedHash, actualHash)
	}
	if err := os.Chmod(tmpPath, 0o755); err != nil {
		return fmt.Errorf("make executable: %w", err)
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("determine executable path: %w", err)
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	if err := os.Rename(tmpPath, execPath); err != nil {
		if err := copyFile(tmpPath, execPath); err != nil {
			return fmt.Errorf("replace binary: %w", err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = srcFile.Close() }()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = dstFile.Close() }()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return err
	}
	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.Chmod(dst, srcInfo.Mode())
}
