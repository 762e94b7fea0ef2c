package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/loykin/aistack/internal/config"
	"github.com/loykin/aistack/internal/firewall"
	"github.com/loykin/aistack/internal/health"
	"github.com/loykin/aistack/internal/installer"
	"github.com/loykin/aistack/internal/process"
)

type fakeSup struct {
	running   map[string]bool // specs considered alive for Adopt
	ensured   []string
	stopped   []string
	released  []int
	ensureErr map[string]error
	handles   map[string]*process.Handle
}

func newFakeSup() *fakeSup {
	return &fakeSup{running: map[string]bool{}, ensureErr: map[string]error{}, handles: map[string]*process.Handle{}}
}

func (f *fakeSup) handle(name string) *process.Handle {
	if h, ok := f.handles[name]; ok {
		return h
	}
	h := &process.Handle{}
	f.handles[name] = h
	return h
}

func (f *fakeSup) EnsureRunning(spec process.Spec) (*process.Handle, error) {
	if err := f.ensureErr[spec.Name]; err != nil {
		return nil, err
	}
	f.ensured = append(f.ensured, spec.Name)
	f.running[spec.Name] = true
	return f.handle(spec.Name), nil
}

func (f *fakeSup) Adopt(spec process.Spec) (*process.Handle, bool) {
	if !f.running[spec.Name] {
		return nil, false
	}
	return f.handle(spec.Name), true
}

func (f *fakeSup) Stop(h *process.Handle, _ bool) (bool, error) {
	for name, known := range f.handles {
		if known == h {
			f.stopped = append(f.stopped, name)
			f.running[name] = false
		}
	}
	return false, nil
}

func (f *fakeSup) ReleasePort(port int, _ bool) (bool, error) {
	f.released = append(f.released, port)
	return false, nil
}

func (f *fakeSup) SetGlobalEnv(map[string]string) {}

type fakeInst struct {
	runtimeOut  installer.Outcome
	runtimeErr  error
	ensured     [][]installer.ModelRef
	modelResult []installer.ModelResult
}

func (f *fakeInst) EnsureRuntimeInstalled(_ context.Context, _ bool) (installer.Outcome, error) {
	return f.runtimeOut, f.runtimeErr
}

func (f *fakeInst) EnsureModelsInstalled(_ context.Context, models []installer.ModelRef) []installer.ModelResult {
	f.ensured = append(f.ensured, models)
	return f.modelResult
}

type fakeFW struct {
	elevated bool
	applied  [][]firewall.Rule
	names    []string
}

func (f *fakeFW) Elevated() bool { return f.elevated }
func (f *fakeFW) Apply(rules []firewall.Rule) ([]firewall.RuleResult, error) {
	f.applied = append(f.applied, rules)
	out := make([]firewall.RuleResult, len(rules))
	for i, r := range rules {
		out[i] = firewall.RuleResult{Name: r.Name, Outcome: firewall.OutcomeOK}
	}
	return out, nil
}
func (f *fakeFW) Remove([]firewall.Rule) ([]firewall.RuleResult, error) { return nil, nil }
func (f *fakeFW) RuleNames() ([]string, error)                         { return f.names, nil }

type fakeWait struct {
	ready bool
	calls int
}

func (f *fakeWait) WaitReady(context.Context, health.Probe) bool {
	f.calls++
	return f.ready
}

type fakePorts struct {
	busy map[int]int // port -> owning pid, 0 means busy with unknown owner
}

func (f *fakePorts) IsAvailable(port int) bool { _, b := f.busy[port]; return !b }
func (f *fakePorts) FindOwningProcess(port int) (int, bool) {
	pid, ok := f.busy[port]
	return pid, ok && pid > 0
}

func testConfig() *config.FileConfig {
	return &config.FileConfig{
		Log:     &config.LogConfig{Dir: "logs"},
		Runtime: config.RuntimeConfig{Binary: "ollama", BaseURL: "http://localhost:11434", Port: 11434, Command: "ollama serve"},
		Models:  []string{"llama3.2:3b", "nomic-embed-text"},
		Web:     config.WebConfig{Command: "uvicorn app.main:app", Port: 8001, BindHost: "0.0.0.0"},
		Firewall: config.FirewallConfig{
			Rules: firewall.DefaultRules(8001, 11434),
		},
	}
}

func testOrchestrator() (*Orchestrator, *fakeSup, *fakeInst, *fakeFW, *fakeWait, *fakePorts) {
	sup := newFakeSup()
	inst := &fakeInst{runtimeOut: installer.OutcomeSkipped}
	fw := &fakeFW{elevated: true}
	wait := &fakeWait{ready: true}
	ports := &fakePorts{busy: map[int]int{}}
	o := &Orchestrator{
		cfg:     testConfig(),
		sup:     sup,
		inst:    inst,
		fw:      fw,
		wait:    wait,
		webWait: wait,
		ports:   ports,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return o, sup, inst, fw, wait, ports
}

func stepOutcome(t *testing.T, r *Report, step string) Outcome {
	t.Helper()
	for _, s := range r.Steps {
		if s.Step == step {
			return s.Outcome
		}
	}
	t.Fatalf("step %q missing from report: %+v", step, r.Steps)
	return ""
}

func TestStartHappyPath(t *testing.T) {
	o, sup, _, _, wait, _ := testOrchestrator()

	r, err := o.Start(context.Background(), StartOptions{Headless: true})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if r.Verdict() != VerdictSuccess {
		t.Fatalf("verdict = %s: %+v", r.Verdict(), r.Steps)
	}
	if stepOutcome(t, r, "runtime") != OutcomeOK || stepOutcome(t, r, "web") != OutcomeOK {
		t.Fatalf("steps: %+v", r.Steps)
	}
	if len(sup.ensured) != 2 || sup.ensured[0] != "runtime" || sup.ensured[1] != "web" {
		t.Fatalf("ensure order = %v", sup.ensured)
	}
	// One readiness wait for the runtime, one for the web service.
	if wait.calls != 2 {
		t.Fatalf("wait calls = %d, want 2", wait.calls)
	}
}

func TestStartSkipRuntime(t *testing.T) {
	o, sup, _, _, _, _ := testOrchestrator()

	r, err := o.Start(context.Background(), StartOptions{Headless: true, SkipRuntime: true})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if stepOutcome(t, r, "runtime") != OutcomeSkipped {
		t.Fatalf("runtime should be skipped: %+v", r.Steps)
	}
	for _, name := range sup.ensured {
		if name == "runtime" {
			t.Fatalf("runtime must not be ensured when skipped")
		}
	}
}

func TestStartPortInUseIsFatal(t *testing.T) {
	o, sup, _, _, _, ports := testOrchestrator()
	ports.busy[8001] = 4242 // never freed; fake ReleasePort does nothing

	_, err := o.Start(context.Background(), StartOptions{Headless: true})
	if !errors.Is(err, ErrPortInUse) {
		t.Fatalf("err = %v, want ErrPortInUse", err)
	}
	// Release retried once: two attempts total.
	if len(sup.released) != 2 {
		t.Fatalf("release attempts = %d, want 2", len(sup.released))
	}
	if len(sup.ensured) != 0 {
		t.Fatalf("nothing should start after a fatal port conflict")
	}
}

func TestStartWebProbeFailureIsPartial(t *testing.T) {
	o, _, _, _, wait, _ := testOrchestrator()
	wait.ready = false

	r, err := o.Start(context.Background(), StartOptions{Headless: true})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if r.Verdict() != VerdictPartial {
		t.Fatalf("verdict = %s", r.Verdict())
	}
	if stepOutcome(t, r, "web") != OutcomeFailed {
		t.Fatalf("web step should fail on probe timeout")
	}
}

func TestStopKeepRuntime(t *testing.T) {
	o, sup, _, _, _, _ := testOrchestrator()
	sup.running["web"] = true
	sup.running["runtime"] = true

	r, err := o.Stop(context.Background(), StopOptions{KeepRuntime: true})
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if stepOutcome(t, r, "runtime") != OutcomeSkipped {
		t.Fatalf("runtime should be kept: %+v", r.Steps)
	}
	for _, name := range sup.stopped {
		if name == "runtime" {
			t.Fatalf("runtime stopped despite keep flag")
		}
	}
	found := false
	for _, name := range sup.stopped {
		if name == "web" {
			found = true
		}
	}
	if !found {
		t.Fatalf("web not stopped: %v", sup.stopped)
	}
	// Only the web port is released when the runtime is kept.
	for _, p := range sup.released {
		if p == 11434 {
			t.Fatalf("runtime port released despite keep flag")
		}
	}
}

func TestStopWhenNothingRuns(t *testing.T) {
	o, _, _, _, _, _ := testOrchestrator()

	r, err := o.Stop(context.Background(), StopOptions{})
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if stepOutcome(t, r, "web") != OutcomeSkipped {
		t.Fatalf("stopping a stopped service must be a skip: %+v", r.Steps)
	}
	if r.Failed() {
		t.Fatalf("idempotent stop must not fail: %+v", r.Steps)
	}
}

func TestInstallFirewallSkippedWithoutElevation(t *testing.T) {
	o, _, _, fw, _, _ := testOrchestrator()
	fw.elevated = false
	restore := runCommand
	runCommand = func(context.Context, string, string, ...string) error { return nil }
	defer func() { runCommand = restore }()

	r, err := o.Install(context.Background(), InstallOptions{SkipModels: true})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if stepOutcome(t, r, "firewall") != OutcomeSkipped {
		t.Fatalf("firewall must be skipped without elevation: %+v", r.Steps)
	}
	if len(fw.applied) != 0 {
		t.Fatalf("rules must not be attempted without elevation")
	}
}

func TestInstallModelPartialFailure(t *testing.T) {
	o, _, inst, _, _, _ := testOrchestrator()
	inst.modelResult = []installer.ModelResult{
		{Name: "a", Outcome: installer.OutcomeOK},
		{Name: "b", Outcome: installer.OutcomeFailed, Err: errors.New("registry timeout")},
		{Name: "c", Outcome: installer.OutcomeOK},
	}
	restore := runCommand
	runCommand = func(context.Context, string, string, ...string) error { return nil }
	defer func() { runCommand = restore }()

	r, err := o.Install(context.Background(), InstallOptions{SkipFirewall: true})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if stepOutcome(t, r, "model:b") != OutcomeFailed {
		t.Fatalf("failed model not reported: %+v", r.Steps)
	}
	if stepOutcome(t, r, "model:c") != OutcomeOK {
		t.Fatalf("later model must still be attempted: %+v", r.Steps)
	}
	if r.Verdict() != VerdictPartial {
		t.Fatalf("verdict = %s", r.Verdict())
	}
}

func TestInstallModelsFlagOverridesConfig(t *testing.T) {
	o, _, inst, _, _, _ := testOrchestrator()
	inst.modelResult = []installer.ModelResult{{Name: "custom:1b", Outcome: installer.OutcomeOK}}
	restore := runCommand
	runCommand = func(context.Context, string, string, ...string) error { return nil }
	defer func() { runCommand = restore }()

	_, err := o.Install(context.Background(), InstallOptions{SkipFirewall: true, Models: []string{"custom:1b"}})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if len(inst.ensured) != 1 || len(inst.ensured[0]) != 1 || inst.ensured[0][0].Name != "custom:1b" {
		t.Fatalf("models passed = %+v", inst.ensured)
	}
}

func TestReportVerdicts(t *testing.T) {
	r := NewReport("x")
	r.Add("a", OutcomeOK, "")
	r.Add("b", OutcomeSkipped, "")
	if r.Verdict() != VerdictSuccess {
		t.Fatalf("verdict = %s, want success", r.Verdict())
	}
	r.Add("c", OutcomeFailed, "boom")
	if r.Verdict() != VerdictPartial {
		t.Fatalf("verdict = %s, want partial", r.Verdict())
	}

	r2 := NewReport("y")
	r2.Add("a", OutcomeFailed, "boom")
	r2.Add("b", OutcomeSkipped, "")
	if r2.Verdict() != VerdictFailure {
		t.Fatalf("verdict = %s, want failure", r2.Verdict())
	}
}

func TestReducedTestBatteryAvoidsNetwork(t *testing.T) {
	o, _, _, _, _, _ := testOrchestrator()

	tr := o.Test(context.Background(), TestOptions{Reduced: true})
	for _, c := range tr.Checks {
		switch c.Name {
		case "runtime_reachable", "web_health", "chat_roundtrip", "models_present":
			t.Fatalf("reduced battery ran network check %s", c.Name)
		}
	}
	if len(tr.Checks) == 0 {
		t.Fatalf("reduced battery must still run local checks")
	}
}

func TestPassRate(t *testing.T) {
	tr := &TestReport{Checks: []CheckResult{
		{Status: CheckPass}, {Status: CheckPass}, {Status: CheckFail}, {Status: CheckErr},
	}}
	if got := tr.PassRate(); got != 0.5 {
		t.Fatalf("pass rate = %v, want 0.5", got)
	}
	empty := &TestReport{}
	if empty.PassRate() != 0 {
		t.Fatalf("empty battery pass rate must be 0")
	}
}

func TestFirewallWorkflowAppliesOverrideRules(t *testing.T) {
	o, _, _, fw, _, _ := testOrchestrator()

	r, err := o.Firewall(context.Background(), false, 9001, 0)
	if err != nil {
		t.Fatalf("Firewall: %v", err)
	}
	if r.Verdict() != VerdictSuccess {
		t.Fatalf("verdict = %s: %+v", r.Verdict(), r.Steps)
	}
	if len(fw.applied) != 1 {
		t.Fatalf("apply calls = %d, want 1", len(fw.applied))
	}
	// Zero runtime-port override falls back to the configured port.
	rules := fw.applied[0]
	var ports []int
	for _, rule := range rules {
		ports = append(ports, rule.Port)
	}
	if len(ports) != 2 || ports[0] != 9001 || ports[1] != 11434 {
		t.Fatalf("applied ports = %v, want [9001 11434]", ports)
	}
}

func TestFirewallWorkflowRequiresElevation(t *testing.T) {
	o, _, _, fw, _, _ := testOrchestrator()
	fw.elevated = false

	r, err := o.Firewall(context.Background(), false, 0, 0)
	if !errors.Is(err, firewall.ErrPrivilegeRequired) {
		t.Fatalf("err = %v, want ErrPrivilegeRequired", err)
	}
	if len(fw.applied) != 0 {
		t.Fatalf("rules must not be applied without elevation")
	}
	if stepOutcome(t, r, "elevation") != OutcomeFailed {
		t.Fatalf("elevation step: %+v", r.Steps)
	}
}

func TestInstallSelftestFailureIsReported(t *testing.T) {
	o, _, _, fw, _, _ := testOrchestrator()
	// Without elevation the os_capability check fails, so the reduced
	// battery cannot reach a perfect pass rate.
	fw.elevated = false
	restore := runCommand
	runCommand = func(context.Context, string, string, ...string) error { return nil }
	defer func() { runCommand = restore }()

	r, err := o.Install(context.Background(), InstallOptions{SkipRuntime: true, SkipFirewall: true, SkipModels: true})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if stepOutcome(t, r, "selftest") != OutcomeFailed {
		t.Fatalf("imperfect battery must fail the selftest step: %+v", r.Steps)
	}
	if r.Verdict() == VerdictSuccess {
		t.Fatalf("verdict = %s, want non-success with a failed selftest", r.Verdict())
	}
}
