package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/loykin/aistack/internal/health"
)

// TestOptions control the test workflow.
type TestOptions struct {
	Host       string
	Port       int
	SkipModels bool
	SkipWeb    bool
	Verbose    bool
	// Reduced runs only the non-network checks; the install workflow uses
	// it as a post-install sanity pass.
	Reduced bool
}

// CheckStatus is the result class of one test-battery check.
type CheckStatus string

const (
	CheckPass CheckStatus = "PASS"
	CheckFail CheckStatus = "FAIL"
	CheckErr  CheckStatus = "ERROR"
)

// CheckResult is one independent check outcome.
type CheckResult struct {
	Name   string      `json:"name"`
	Status CheckStatus `json:"status"`
	Detail string      `json:"detail,omitempty"`
}

// TestReport aggregates the battery.
type TestReport struct {
	Checks []CheckResult `json:"checks"`
}

// PassRate is passed checks over total, in [0, 1].
func (tr *TestReport) PassRate() float64 {
	if len(tr.Checks) == 0 {
		return 0
	}
	passed := 0
	for _, c := range tr.Checks {
		if c.Status == CheckPass {
			passed++
		}
	}
	return float64(passed) / float64(len(tr.Checks))
}

// Passed reports whether every check passed.
func (tr *TestReport) Passed() bool { return tr.PassRate() == 1 }

type check struct {
	name string
	fn   func(ctx context.Context) (bool, string, error)
}

// Test runs the enumerated battery of independent checks. Each check
// catches its own errors; one check's outcome never influences another.
func (o *Orchestrator) Test(ctx context.Context, opts TestOptions) *TestReport {
	host := opts.Host
	if host == "" {
		host = "localhost"
	}
	port := opts.Port
	if port == 0 {
		port = o.cfg.Web.Port
	}

	checks := []check{
		{"resources", o.checkResources},
		{"python_env", o.checkPythonEnv},
		{"dependencies", o.checkDependencies},
		{"browser_automation", o.checkBrowserAutomation},
		{"network_adapters", checkAdapters},
		{"os_capability", o.checkOSCapability},
	}
	if !opts.Reduced {
		checks = append(checks,
			check{"runtime_reachable", o.checkRuntimeReachable},
			check{"firewall_rules", o.checkFirewallRules},
		)
		if !opts.SkipModels {
			checks = append(checks, check{"models_present", o.checkModelsPresent})
		}
		if !opts.SkipWeb {
			checks = append(checks,
				check{"service_start_probe", func(ctx context.Context) (bool, string, error) {
					return o.checkServiceStartProbe(ctx, host, port)
				}},
				check{"web_health", func(ctx context.Context) (bool, string, error) {
					return checkWebHealth(ctx, host, port)
				}},
				check{"chat_roundtrip", func(ctx context.Context) (bool, string, error) {
					return o.checkChatRoundtrip(ctx, host, port)
				}},
			)
		} else {
			checks = append(checks, check{"port_available", func(_ context.Context) (bool, string, error) {
				if o.ports.IsAvailable(port) {
					return true, fmt.Sprintf("port %d free", port), nil
				}
				if pid, ok := o.ports.FindOwningProcess(port); ok {
					return false, fmt.Sprintf("port %d owned by pid %d", port, pid), nil
				}
				return false, fmt.Sprintf("port %d in use, owner unknown", port), nil
			}})
		}
	}

	tr := &TestReport{}
	for _, c := range checks {
		pass, detail, err := c.fn(ctx)
		res := CheckResult{Name: c.name, Detail: detail}
		switch {
		case err != nil:
			res.Status = CheckErr
			res.Detail = err.Error()
		case pass:
			res.Status = CheckPass
		default:
			res.Status = CheckFail
		}
		if opts.Verbose || res.Status != CheckPass {
			o.log.Info("check", "name", res.Name, "status", string(res.Status), "detail", res.Detail)
		}
		tr.Checks = append(tr.Checks, res)
	}
	o.log.Info("test battery finished",
		"passed", fmt.Sprintf("%.0f%%", tr.PassRate()*100), "checks", len(tr.Checks))
	return tr
}

func (o *Orchestrator) checkResources(_ context.Context) (bool, string, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return false, "", err
	}
	du, err := disk.Usage(".")
	if err != nil {
		return false, "", err
	}
	detail := fmt.Sprintf("%d GiB RAM, %d GiB disk free", vm.Total>>30, du.Free>>30)
	return vm.Total >= minMemoryBytes && du.Free >= minDiskBytes, detail, nil
}

func (o *Orchestrator) checkPythonEnv(_ context.Context) (bool, string, error) {
	dir := o.cfg.Web.WorkDir
	if dir == "" {
		dir = "."
	}
	venv := filepath.Join(dir, ".venv")
	if _, err := os.Stat(venv); err != nil {
		return false, "virtualenv missing at " + venv, nil
	}
	return true, venv, nil
}

func (o *Orchestrator) checkDependencies(_ context.Context) (bool, string, error) {
	missing := []string{}
	for _, tool := range []string{"python3", "git", o.cfg.Runtime.Binary} {
		if _, err := exec.LookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	if len(missing) > 0 {
		return false, "missing: " + strings.Join(missing, ", "), nil
	}
	return true, "", nil
}

// checkBrowserAutomation asks the virtualenv interpreter for the playwright
// version. Anything other than a clean exit fails the check.
func (o *Orchestrator) checkBrowserAutomation(ctx context.Context) (bool, string, error) {
	dir := o.cfg.Web.WorkDir
	if dir == "" {
		dir = "."
	}
	python := venvPython(dir)
	if _, err := os.Stat(python); err != nil {
		return false, "virtualenv python missing at " + python, nil
	}
	// #nosec G204 -- fixed interpreter path under the configured workdir
	out, err := exec.CommandContext(ctx, python, "-m", "playwright", "--version").CombinedOutput()
	detail := strings.TrimSpace(string(out))
	if err != nil {
		if detail == "" {
			detail = err.Error()
		}
		return false, detail, nil
	}
	return true, detail, nil
}

// checkServiceStartProbe verifies the web service can come up. A service
// already answering on the port passes outright; otherwise it is started
// transiently, waited on briefly and force-stopped again.
func (o *Orchestrator) checkServiceStartProbe(ctx context.Context, host string, port int) (bool, string, error) {
	tcp := health.TCPProbe{Host: host, Port: port}
	if tcp.Check(ctx).OK {
		return true, "already serving", nil
	}
	if !o.ports.IsAvailable(port) {
		return false, fmt.Sprintf("port %d held by another process", port), nil
	}
	spec := o.cfg.WebSpec("127.0.0.1", port, true)
	h, err := o.sup.EnsureRunning(spec)
	if err != nil {
		return false, "", err
	}
	defer func() { _, _ = o.sup.Stop(h, true) }()
	w := health.Waiter{MaxAttempts: 5, Interval: time.Second}
	if !w.WaitReady(ctx, health.TCPProbe{Host: "127.0.0.1", Port: port}) {
		return false, "did not accept connections after transient start", nil
	}
	return true, "transient start ok", nil
}

func checkAdapters(_ context.Context) (bool, string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false, "", err
	}
	up := 0
	for _, i := range ifaces {
		if i.Flags&net.FlagUp != 0 && i.Flags&net.FlagLoopback == 0 {
			up++
		}
	}
	return up > 0, fmt.Sprintf("%d adapters up", up), nil
}

func (o *Orchestrator) checkOSCapability(_ context.Context) (bool, string, error) {
	if !o.fw.Elevated() {
		return false, "not elevated", nil
	}
	return true, "elevated", nil
}

func (o *Orchestrator) checkRuntimeReachable(ctx context.Context) (bool, string, error) {
	res := health.HTTPProbe{URL: o.cfg.Runtime.BaseURL + "/api/tags", Timeout: 5 * time.Second}.Check(ctx)
	if !res.OK {
		detail := "unreachable"
		if res.Err != nil {
			detail = res.Err.Error()
		}
		return false, detail, nil
	}
	return true, fmt.Sprintf("responded in %s", res.Latency.Round(time.Millisecond)), nil
}

func (o *Orchestrator) checkFirewallRules(_ context.Context) (bool, string, error) {
	names, err := o.fw.RuleNames()
	if err != nil {
		return false, "", err
	}
	present := map[string]bool{}
	for _, n := range names {
		present[n] = true
	}
	missing := []string{}
	for _, rule := range o.cfg.Firewall.Rules {
		if !present[rule.Name] {
			missing = append(missing, rule.Name)
		}
	}
	if len(missing) > 0 {
		return false, "missing: " + strings.Join(missing, ", "), nil
	}
	return true, "", nil
}

// checkModelsPresent queries the runtime listing and verifies every
// configured model is present, exact match.
func (o *Orchestrator) checkModelsPresent(ctx context.Context) (bool, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.cfg.Runtime.BaseURL+"/api/tags", nil)
	if err != nil {
		return false, "", err
	}
	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		return false, "", err
	}
	defer func() { _ = resp.Body.Close() }()
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false, "", err
	}
	present := map[string]bool{}
	for _, m := range tags.Models {
		present[m.Name] = true
	}
	missing := []string{}
	for _, want := range o.cfg.Models {
		if !present[want] {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		return false, "missing: " + strings.Join(missing, ", "), nil
	}
	return true, fmt.Sprintf("%d models present", len(o.cfg.Models)), nil
}

func checkWebHealth(ctx context.Context, host string, port int) (bool, string, error) {
	url := fmt.Sprintf("http://%s:%d/health", host, port)
	res := health.HTTPProbe{URL: url, Timeout: 5 * time.Second}.Check(ctx)
	if !res.OK {
		detail := "unhealthy"
		if res.Err != nil {
			detail = res.Err.Error()
		}
		return false, detail, nil
	}
	return true, fmt.Sprintf("responded in %s", res.Latency.Round(time.Millisecond)), nil
}

// checkChatRoundtrip posts a minimal prompt and expects a response field.
func (o *Orchestrator) checkChatRoundtrip(ctx context.Context, host string, port int) (bool, string, error) {
	model := ""
	if len(o.cfg.Models) > 0 {
		model = o.cfg.Models[0]
	}
	body, _ := json.Marshal(map[string]any{
		"model":       model,
		"prompt":      "Reply with the single word: ok",
		"temperature": 0.0,
		"stream":      false,
	})
	url := fmt.Sprintf("http://%s:%d/chat", host, port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := (&http.Client{Timeout: 2 * time.Minute}).Do(req)
	if err != nil {
		return false, "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Sprintf("status %d", resp.StatusCode), nil
	}
	var out struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, "", err
	}
	if out.Response == "" {
		return false, "empty response field", nil
	}
	return true, fmt.Sprintf("%d chars", len(out.Response)), nil
}
