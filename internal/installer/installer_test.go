package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProvider struct {
	resolved     bool
	installerURL string
	ranInstaller []string
	installErr   error
	installed    []ModelRef
	listErr      error
	pulled       []string
	pullErr      map[string]error
}

func (f *fakeProvider) Resolve() (string, error) {
	if f.resolved {
		return "/usr/local/bin/runtime", nil
	}
	return "", ErrDependencyMissing
}

func (f *fakeProvider) InstallerURL() string { return f.installerURL }

func (f *fakeProvider) RunInstaller(_ context.Context, path string, _ bool) error {
	f.ranInstaller = append(f.ranInstaller, path)
	if f.installErr != nil {
		return f.installErr
	}
	f.resolved = true
	return nil
}

func (f *fakeProvider) ListInstalledModels(_ context.Context) ([]ModelRef, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.installed, nil
}

func (f *fakeProvider) PullModel(_ context.Context, name string) error {
	f.pulled = append(f.pulled, name)
	if err := f.pullErr[name]; err != nil {
		return err
	}
	f.installed = append(f.installed, ModelRef{Name: name})
	return nil
}

func installerServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, "#!/bin/sh\nexit 0\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEnsureRuntimeInstalledIdempotent(t *testing.T) {
	srv := installerServer(t)
	p := &fakeProvider{installerURL: srv.URL + "/install.sh"}
	inst := &Installer{Provider: p, Logger: discard()}

	out, err := inst.EnsureRuntimeInstalled(context.Background(), false)
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if out != OutcomeOK {
		t.Fatalf("first ensure = %s, want ok", out)
	}
	if len(p.ranInstaller) != 1 {
		t.Fatalf("installer ran %d times, want 1", len(p.ranInstaller))
	}

	out, err = inst.EnsureRuntimeInstalled(context.Background(), false)
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if out != OutcomeSkipped {
		t.Fatalf("second ensure = %s, want skipped", out)
	}
	if len(p.ranInstaller) != 1 {
		t.Fatalf("installer must not run again, ran %d times", len(p.ranInstaller))
	}
}

func TestEnsureRuntimeForceReinstalls(t *testing.T) {
	srv := installerServer(t)
	p := &fakeProvider{resolved: true, installerURL: srv.URL + "/install.sh"}
	inst := &Installer{Provider: p, Logger: discard()}

	out, err := inst.EnsureRuntimeInstalled(context.Background(), true)
	if err != nil {
		t.Fatalf("forced ensure: %v", err)
	}
	if out != OutcomeOK || len(p.ranInstaller) != 1 {
		t.Fatalf("force must reinstall: outcome=%s runs=%d", out, len(p.ranInstaller))
	}
}

func TestEnsureRuntimeDownloadFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	p := &fakeProvider{installerURL: srv.URL + "/install.sh"}
	inst := &Installer{Provider: p, Logger: discard()}

	out, err := inst.EnsureRuntimeInstalled(context.Background(), false)
	if out != OutcomeFailed || !errors.Is(err, ErrDownloadFailed) {
		t.Fatalf("outcome=%s err=%v, want failed/ErrDownloadFailed", out, err)
	}
	if len(p.ranInstaller) != 0 {
		t.Fatalf("installer must not run after a failed download")
	}
}

func TestEnsureRuntimeInstallFailedAndScratchCleaned(t *testing.T) {
	srv := installerServer(t)
	p := &fakeProvider{installerURL: srv.URL + "/install.sh", installErr: errors.New("exit 1")}
	inst := &Installer{Provider: p, Logger: discard()}

	out, err := inst.EnsureRuntimeInstalled(context.Background(), false)
	if out != OutcomeFailed || !errors.Is(err, ErrInstallFailed) {
		t.Fatalf("outcome=%s err=%v, want failed/ErrInstallFailed", out, err)
	}
	if len(p.ranInstaller) != 1 {
		t.Fatalf("installer should have been attempted once")
	}
	// The scratch copy of the installer must be gone on the failure path.
	if _, statErr := os.Stat(p.ranInstaller[0]); !os.IsNotExist(statErr) {
		t.Fatalf("scratch installer %s not cleaned up", p.ranInstaller[0])
	}
}

func TestEnsureModelsPartialFailure(t *testing.T) {
	p := &fakeProvider{pullErr: map[string]error{"b": errors.New("registry timeout")}}
	inst := &Installer{Provider: p, Logger: discard()}

	models := []ModelRef{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	results := inst.EnsureModelsInstalled(context.Background(), models)
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	want := []Outcome{OutcomeOK, OutcomeFailed, OutcomeOK}
	for i, r := range results {
		if r.Name != models[i].Name {
			t.Fatalf("result %d out of order: %s", i, r.Name)
		}
		if r.Outcome != want[i] {
			t.Fatalf("model %s outcome = %s, want %s", r.Name, r.Outcome, want[i])
		}
	}
	if results[1].Err == nil {
		t.Fatalf("failed result must carry the pull error")
	}
	if len(p.pulled) != 3 {
		t.Fatalf("all three pulls must be attempted, got %v", p.pulled)
	}
}

func TestEnsureModelsSkipsInstalled(t *testing.T) {
	p := &fakeProvider{installed: []ModelRef{{Name: "llama3.2:3b"}}}
	inst := &Installer{Provider: p, Logger: discard()}

	results := inst.EnsureModelsInstalled(context.Background(), []ModelRef{
		{Name: "llama3.2:3b"},
		{Name: "nomic-embed-text"},
	})
	if results[0].Outcome != OutcomeSkipped {
		t.Fatalf("installed model outcome = %s, want skipped", results[0].Outcome)
	}
	if results[1].Outcome != OutcomeOK {
		t.Fatalf("missing model outcome = %s, want ok", results[1].Outcome)
	}
	if len(p.pulled) != 1 || p.pulled[0] != "nomic-embed-text" {
		t.Fatalf("pulled = %v, want only the missing model", p.pulled)
	}
}

func TestEnsureModelsMatchIsCaseSensitive(t *testing.T) {
	p := &fakeProvider{installed: []ModelRef{{Name: "Llama3.2:3b"}}}
	inst := &Installer{Provider: p, Logger: discard()}

	results := inst.EnsureModelsInstalled(context.Background(), []ModelRef{{Name: "llama3.2:3b"}})
	if results[0].Outcome == OutcomeSkipped {
		t.Fatalf("case-differing name must not match the listing")
	}
}

func TestEnsureModelsListFailurePullsAnyway(t *testing.T) {
	p := &fakeProvider{listErr: errors.New("runtime down")}
	inst := &Installer{Provider: p, Logger: discard()}

	results := inst.EnsureModelsInstalled(context.Background(), []ModelRef{{Name: "a"}})
	if results[0].Outcome != OutcomeOK || len(p.pulled) != 1 {
		t.Fatalf("listing failure must fall back to pulling: %+v", results)
	}
}

func TestOllamaListInstalledModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		_, _ = fmt.Fprint(w, `{"models":[{"name":"llama3.2:3b","size":2019393189},{"name":"nomic-embed-text","size":274302450}]}`)
	}))
	defer srv.Close()

	p := &OllamaProvider{BaseURL: srv.URL}
	models, err := p.ListInstalledModels(context.Background())
	if err != nil {
		t.Fatalf("ListInstalledModels: %v", err)
	}
	if len(models) != 2 || models[0].Name != "llama3.2:3b" || models[0].Size != 2019393189 {
		t.Fatalf("models = %+v", models)
	}
}

func TestOllamaListErrorOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := &OllamaProvider{BaseURL: srv.URL}
	if _, err := p.ListInstalledModels(context.Background()); err == nil {
		t.Fatalf("expected error on 500")
	}
}
