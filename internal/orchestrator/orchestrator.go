// Package orchestrator composes the supervisor, installer, health waiter and
// firewall configurator into the install, start, stop and test workflows.
// Every workflow produces an append-only Report; non-fatal step failures are
// recorded and the workflow continues.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/loykin/aistack/internal/config"
	"github.com/loykin/aistack/internal/firewall"
	"github.com/loykin/aistack/internal/health"
	"github.com/loykin/aistack/internal/history"
	"github.com/loykin/aistack/internal/installer"
	"github.com/loykin/aistack/internal/netprobe"
	"github.com/loykin/aistack/internal/process"
)

// ErrPortInUse reports a required port that could not be reclaimed.
var ErrPortInUse = errors.New("port in use")

// supervisor is the process-lifecycle surface the workflows need.
type supervisor interface {
	EnsureRunning(spec process.Spec) (*process.Handle, error)
	Adopt(spec process.Spec) (*process.Handle, bool)
	Stop(h *process.Handle, force bool) (bool, error)
	ReleasePort(port int, force bool) (bool, error)
	SetGlobalEnv(kvs map[string]string)
}

// runtimeInstaller is the dependency-installation surface.
type runtimeInstaller interface {
	EnsureRuntimeInstalled(ctx context.Context, force bool) (installer.Outcome, error)
	EnsureModelsInstalled(ctx context.Context, models []installer.ModelRef) []installer.ModelResult
}

// firewallConfigurator is the network-rule surface. Elevated gates the whole
// step: without elevation the step is skipped, not attempted.
type firewallConfigurator interface {
	Elevated() bool
	Apply(rules []firewall.Rule) ([]firewall.RuleResult, error)
	Remove(rules []firewall.Rule) ([]firewall.RuleResult, error)
	RuleNames() ([]string, error)
}

// readiness waits for a probe with bounded retries.
type readiness interface {
	WaitReady(ctx context.Context, probe health.Probe) bool
}

// portProbe is the port-inspection surface.
type portProbe interface {
	IsAvailable(port int) bool
	FindOwningProcess(port int) (int, bool)
}

type netprobeAdapter struct{}

func (netprobeAdapter) IsAvailable(port int) bool { return netprobe.IsAvailable(port) }
func (netprobeAdapter) FindOwningProcess(port int) (int, bool) {
	return netprobe.FindOwningProcess(port)
}

type waiterAdapter struct{ w health.Waiter }

func (a waiterAdapter) WaitReady(ctx context.Context, probe health.Probe) bool {
	return a.w.WaitReady(ctx, probe)
}

type configuratorAdapter struct{ c *firewall.Configurator }

func (a configuratorAdapter) Elevated() bool { return a.c.Cap.Elevated() }
func (a configuratorAdapter) Apply(rules []firewall.Rule) ([]firewall.RuleResult, error) {
	return a.c.Apply(rules)
}
func (a configuratorAdapter) Remove(rules []firewall.Rule) ([]firewall.RuleResult, error) {
	return a.c.Remove(rules)
}
func (a configuratorAdapter) RuleNames() ([]string, error) { return a.c.Cap.ListRuleNames() }

// Orchestrator drives the stack workflows.
type Orchestrator struct {
	cfg     *config.FileConfig
	sup     supervisor
	inst    runtimeInstaller
	fw      firewallConfigurator
	wait    readiness
	webWait readiness
	ports   portProbe
	sinks   []history.Sink
	log     *slog.Logger
}

// New wires an orchestrator from configuration with the real OS-backed
// collaborators.
func New(cfg *config.FileConfig, log *slog.Logger) (*Orchestrator, error) {
	sup := process.NewSupervisor()
	if env, err := cfg.GlobalEnv(); err != nil {
		return nil, err
	} else if len(env) > 0 {
		sup.SetGlobalEnv(env)
	}

	provider := &installer.OllamaProvider{
		Binary:    cfg.Runtime.Binary,
		BaseURL:   cfg.Runtime.BaseURL,
		Installer: cfg.Runtime.InstallerURL,
	}
	fwCfg := &firewall.Configurator{Cap: firewall.NewOSCapability(), Logger: log}

	o := &Orchestrator{
		cfg:  cfg,
		sup:  sup,
		inst: &installer.Installer{Provider: provider, Elevated: fwCfg.Cap.Elevated(), Logger: log},
		fw:   configuratorAdapter{c: fwCfg},
		wait: waiterAdapter{w: health.NewWaiter()},
		webWait: waiterAdapter{w: health.Waiter{
			MaxAttempts: health.WebMaxAttempts,
			Interval:    health.WebInterval,
		}},
		ports: netprobeAdapter{},
		log:   log,
	}
	return o, nil
}

// AddSink registers a history sink receiving every workflow step.
func (o *Orchestrator) AddSink(s history.Sink) { o.sinks = append(o.sinks, s) }

// Supervisor exposes the underlying supervisor for the status API.
func (o *Orchestrator) Supervisor() *process.Supervisor {
	if s, ok := o.sup.(*process.Supervisor); ok {
		return s
	}
	return nil
}

// reclaimPort frees the given port, retrying the release once. Returns
// ErrPortInUse when the port is still held afterwards.
func (o *Orchestrator) reclaimPort(port int, force bool) error {
	if o.ports.IsAvailable(port) {
		return nil
	}
	for attempt := 0; attempt < 2; attempt++ {
		if _, err := o.sup.ReleasePort(port, force); err != nil {
			o.log.Warn("port release failed", "port", port, "error", err)
		}
		if o.ports.IsAvailable(port) {
			return nil
		}
	}
	return ErrPortInUse
}
