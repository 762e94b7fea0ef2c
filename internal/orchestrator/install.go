package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/loykin/aistack/internal/firewall"
	"github.com/loykin/aistack/internal/installer"
)

// InstallOptions control the install workflow.
type InstallOptions struct {
	SkipRuntime  bool
	SkipFirewall bool
	SkipModels   bool
	// Models overrides the configured model set when non-empty.
	Models []string
	// Production installs without development extras.
	Production bool
	// Force reinstalls the runtime even when it already resolves.
	Force bool
}

// Advisory resource floors. Falling below them produces a warning in the
// report, never a failure.
const (
	minMemoryBytes = 8 << 30
	minDiskBytes   = 10 << 30
)

// runCommand executes a setup command. Swapped out in tests.
var runCommand = func(ctx context.Context, dir, name string, args ...string) error {
	// #nosec G204 -- fixed setup commands, not user input
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %v: %s", name, err, out)
	}
	return nil
}

// Install converges the host: advisory prerequisite checks, runtime install,
// Python environment setup, privilege-gated firewall rules, model pulls and
// a reduced test battery. Failed steps are reported and the workflow
// continues wherever dependents allow.
func (o *Orchestrator) Install(ctx context.Context, opts InstallOptions) (*Report, error) {
	r := NewReport("install")
	defer r.Finish(ctx, o.log, o.sinks)

	o.checkPrerequisites(r)

	if opts.SkipRuntime {
		r.Add("runtime", OutcomeSkipped, "skipped by flag")
	} else if out, err := o.inst.EnsureRuntimeInstalled(ctx, opts.Force); err != nil {
		// Reported, not fatal: the rest of the setup can still proceed.
		r.Add("runtime", OutcomeFailed, err.Error())
	} else if out == installer.OutcomeSkipped {
		r.Add("runtime", OutcomeSkipped, "already installed")
	} else {
		r.Add("runtime", OutcomeOK, "")
	}

	o.setupEnvironment(ctx, r, opts.Production)

	if opts.SkipFirewall {
		r.Add("firewall", OutcomeSkipped, "skipped by flag")
	} else {
		o.applyFirewall(r)
	}

	if opts.SkipModels {
		r.Add("models", OutcomeSkipped, "skipped by flag")
	} else {
		models := o.cfg.ModelRefs()
		if len(opts.Models) > 0 {
			models = models[:0]
			for _, m := range opts.Models {
				models = append(models, installer.ModelRef{Name: m})
			}
		}
		o.installModels(ctx, r, models)
	}

	tr := o.Test(ctx, TestOptions{Reduced: true, SkipModels: opts.SkipModels, SkipWeb: true})
	detail := fmt.Sprintf("pass rate %.0f%%", tr.PassRate()*100)
	if tr.Passed() {
		r.Add("selftest", OutcomeOK, detail)
	} else {
		r.Add("selftest", OutcomeFailed, detail)
	}

	return r, nil
}

// checkPrerequisites records advisory host checks. Shortfalls downgrade to
// warnings: outcome skipped with a reason, never failed.
func (o *Orchestrator) checkPrerequisites(r *Report) {
	r.Add("os", OutcomeOK, runtime.GOOS+"/"+runtime.GOARCH)

	if vm, err := mem.VirtualMemory(); err != nil {
		r.Add("memory", OutcomeSkipped, "warning: "+err.Error())
	} else if vm.Total < minMemoryBytes {
		r.Add("memory", OutcomeSkipped, fmt.Sprintf("warning: %d GiB installed, %d GiB recommended",
			vm.Total>>30, minMemoryBytes>>30))
	} else {
		r.Add("memory", OutcomeOK, fmt.Sprintf("%d GiB", vm.Total>>30))
	}

	if du, err := disk.Usage("."); err != nil {
		r.Add("disk", OutcomeSkipped, "warning: "+err.Error())
	} else if du.Free < minDiskBytes {
		r.Add("disk", OutcomeSkipped, fmt.Sprintf("warning: %d GiB free, %d GiB recommended",
			du.Free>>30, minDiskBytes>>30))
	} else {
		r.Add("disk", OutcomeOK, fmt.Sprintf("%d GiB free", du.Free>>30))
	}

	for _, tool := range []string{"python3", "git"} {
		if _, err := exec.LookPath(tool); err != nil {
			r.Add(tool, OutcomeSkipped, "warning: not on PATH")
		} else {
			r.Add(tool, OutcomeOK, "")
		}
	}
}

// setupEnvironment creates or reuses the web service's Python virtualenv,
// installs its requirements and the browser-automation assets.
func (o *Orchestrator) setupEnvironment(ctx context.Context, r *Report, production bool) {
	dir := o.cfg.Web.WorkDir
	if dir == "" {
		dir = "."
	}
	venv := filepath.Join(dir, ".venv")
	if _, err := os.Stat(venv); errors.Is(err, os.ErrNotExist) {
		if err := runCommand(ctx, dir, "python3", "-m", "venv", ".venv"); err != nil {
			r.Add("venv", OutcomeFailed, err.Error())
			return
		}
		r.Add("venv", OutcomeOK, "created")
	} else {
		r.Add("venv", OutcomeSkipped, "reused existing")
	}

	pip := filepath.Join(venv, "bin", "pip")
	if runtime.GOOS == "windows" {
		pip = filepath.Join(venv, "Scripts", "pip.exe")
	}
	req := "requirements.txt"
	if production {
		if _, err := os.Stat(filepath.Join(dir, "requirements-prod.txt")); err == nil {
			req = "requirements-prod.txt"
		}
	}
	if _, err := os.Stat(filepath.Join(dir, req)); err != nil {
		r.Add("dependencies", OutcomeSkipped, req+" not found")
	} else if err := runCommand(ctx, dir, pip, "install", "-r", req); err != nil {
		r.Add("dependencies", OutcomeFailed, err.Error())
	} else {
		r.Add("dependencies", OutcomeOK, "")
	}

	if err := runCommand(ctx, dir, venvPython(dir), "-m", "playwright", "install", "chromium"); err != nil {
		r.Add("browser_assets", OutcomeFailed, err.Error())
	} else {
		r.Add("browser_assets", OutcomeOK, "")
	}
}

// venvPython resolves the virtualenv interpreter under dir.
func venvPython(dir string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(dir, ".venv", "Scripts", "python.exe")
	}
	return filepath.Join(dir, ".venv", "bin", "python")
}

// applyFirewall applies the configured rules when elevation allows it.
// Without elevation the step is skipped entirely, not attempted.
func (o *Orchestrator) applyFirewall(r *Report) {
	if !o.fw.Elevated() {
		r.Add("firewall", OutcomeSkipped, "requires elevation")
		return
	}
	results, err := o.fw.Apply(o.cfg.Firewall.Rules)
	if err != nil {
		r.Add("firewall", OutcomeFailed, err.Error())
		return
	}
	failed := 0
	for _, res := range results {
		if res.Outcome == firewall.OutcomeFailed {
			failed++
		}
	}
	if failed > 0 {
		r.Add("firewall", OutcomeFailed, fmt.Sprintf("%d of %d rules failed", failed, len(results)))
		return
	}
	r.Add("firewall", OutcomeOK, fmt.Sprintf("%d rules", len(results)))
}

func (o *Orchestrator) installModels(ctx context.Context, r *Report, models []installer.ModelRef) {
	results := o.inst.EnsureModelsInstalled(ctx, models)
	for _, res := range results {
		step := "model:" + res.Name
		switch res.Outcome {
		case installer.OutcomeSkipped:
			r.Add(step, OutcomeSkipped, "already installed")
		case installer.OutcomeFailed:
			reason := ""
			if res.Err != nil {
				reason = res.Err.Error()
			}
			r.Add(step, OutcomeFailed, reason)
		default:
			r.Add(step, OutcomeOK, "")
		}
	}
}
