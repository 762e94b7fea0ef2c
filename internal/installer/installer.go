// Package installer ensures the inference runtime and its model artifacts
// are present. All operations are idempotent: already-installed components
// are reported as skipped, never re-installed.
package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrDownloadFailed wraps failures fetching the runtime installer.
	ErrDownloadFailed = errors.New("download failed")
	// ErrInstallFailed wraps failures running or verifying the installer.
	ErrInstallFailed = errors.New("install failed")
	// ErrDependencyMissing reports an unresolvable runtime binary.
	ErrDependencyMissing = errors.New("dependency missing")
)

// Outcome classifies the result of an ensure operation.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// ModelRef names a model artifact the stack depends on. Size is advisory
// metadata from the runtime listing, zero when unknown.
type ModelRef struct {
	Name string `json:"name"`
	Size int64  `json:"size,omitempty"`
}

// ModelResult is the per-model outcome of EnsureModelsInstalled.
type ModelResult struct {
	Name    string  `json:"name"`
	Outcome Outcome `json:"outcome"`
	Err     error   `json:"-"`
}

// RuntimeProvider abstracts the inference runtime's installation surface.
// Matching against installed models is exact string comparison on the
// provider's structured listing, never output scraping.
type RuntimeProvider interface {
	// Resolve returns the runtime binary path, or ErrDependencyMissing.
	Resolve() (string, error)
	// InstallerURL returns the platform installer download URL.
	InstallerURL() string
	// RunInstaller executes a downloaded installer. silent requests an
	// unattended install; providers fall back to interactive when the
	// platform has no silent mode.
	RunInstaller(ctx context.Context, path string, silent bool) error
	// ListInstalledModels returns the models currently present.
	ListInstalledModels(ctx context.Context) ([]ModelRef, error)
	// PullModel downloads one model; a nil error means the runtime's pull
	// exited zero.
	PullModel(ctx context.Context, name string) error
}

// Installer drives a RuntimeProvider to converge the host on the desired
// runtime and model set.
type Installer struct {
	Provider RuntimeProvider
	// Elevated requests silent installer execution when true.
	Elevated bool
	Client   *http.Client
	Logger   *slog.Logger
}

func (i *Installer) logger() *slog.Logger {
	if i.Logger != nil {
		return i.Logger
	}
	return slog.Default()
}

func (i *Installer) client() *http.Client {
	if i.Client != nil {
		return i.Client
	}
	return &http.Client{Timeout: 10 * time.Minute}
}

// EnsureRuntimeInstalled verifies the runtime binary resolves; when it does
// and force is false the call is a skip. Otherwise it downloads the platform
// installer to a scratch directory, runs it, re-verifies resolvability and
// removes the scratch directory on every exit path.
func (i *Installer) EnsureRuntimeInstalled(ctx context.Context, force bool) (Outcome, error) {
	if path, err := i.Provider.Resolve(); err == nil && !force {
		i.logger().Info("runtime already installed", "path", path)
		return OutcomeSkipped, nil
	}

	scratch, err := os.MkdirTemp("", "aistack-installer-*")
	if err != nil {
		return OutcomeFailed, fmt.Errorf("%w: scratch dir: %v", ErrInstallFailed, err)
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	url := i.Provider.InstallerURL()
	dest := filepath.Join(scratch, filepath.Base(url))
	i.logger().Info("downloading runtime installer", "url", url)
	if err := i.download(ctx, url, dest); err != nil {
		return OutcomeFailed, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	if err := i.Provider.RunInstaller(ctx, dest, i.Elevated); err != nil {
		return OutcomeFailed, fmt.Errorf("%w: %v", ErrInstallFailed, err)
	}
	if _, err := i.Provider.Resolve(); err != nil {
		return OutcomeFailed, fmt.Errorf("%w: runtime not resolvable after install", ErrInstallFailed)
	}
	i.logger().Info("runtime installed")
	return OutcomeOK, nil
}

func (i *Installer) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := i.client().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o700) // #nosec G302 -- installer must be executable
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// EnsureModelsInstalled converges the host on the given model set, in order.
// Present models (exact, case-sensitive name match against the provider
// listing) are skipped; missing ones are pulled. One model's failure never
// blocks subsequent models; the returned results preserve input order.
func (i *Installer) EnsureModelsInstalled(ctx context.Context, models []ModelRef) []ModelResult {
	installed := map[string]bool{}
	if listed, err := i.Provider.ListInstalledModels(ctx); err != nil {
		i.logger().Warn("model listing failed, pulling unconditionally", "error", err)
	} else {
		for _, m := range listed {
			installed[m.Name] = true
		}
	}

	results := make([]ModelResult, 0, len(models))
	for _, m := range models {
		if installed[m.Name] {
			i.logger().Info("model already installed", "model", m.Name)
			results = append(results, ModelResult{Name: m.Name, Outcome: OutcomeSkipped})
			continue
		}
		i.logger().Info("pulling model", "model", m.Name)
		if err := i.Provider.PullModel(ctx, m.Name); err != nil {
			i.logger().Error("model pull failed", "model", m.Name, "error", err)
			results = append(results, ModelResult{Name: m.Name, Outcome: OutcomeFailed, Err: err})
			continue
		}
		results = append(results, ModelResult{Name: m.Name, Outcome: OutcomeOK})
	}
	return results
}
