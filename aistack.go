// Package aistack is a public facade over the internal orchestration
// packages: load a configuration, then drive the install, start, stop and
// test workflows, or embed the status API.
package aistack

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/aistack/internal/config"
	"github.com/loykin/aistack/internal/history"
	"github.com/loykin/aistack/internal/history/factory"
	"github.com/loykin/aistack/internal/logger"
	"github.com/loykin/aistack/internal/metrics"
	"github.com/loykin/aistack/internal/orchestrator"
	"github.com/loykin/aistack/internal/process"
	"github.com/loykin/aistack/internal/server"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = process.Spec

type Status = process.Status

type Report = orchestrator.Report

type TestReport = orchestrator.TestReport

type InstallOptions = orchestrator.InstallOptions

type StartOptions = orchestrator.StartOptions

type StopOptions = orchestrator.StopOptions

type TestOptions = orchestrator.TestOptions

type HistorySink = history.Sink

// Stack binds a configuration to an orchestrator.
type Stack struct {
	cfg  *config.FileConfig
	orch *orchestrator.Orchestrator
	log  *slog.Logger
}

// Load builds a Stack from a TOML config path. An empty path uses defaults.
func Load(configPath string, verbose bool) (*Stack, error) {
	var (
		cfg *config.FileConfig
		err error
	)
	if configPath == "" {
		cfg = config.Default()
	} else if cfg, err = config.Load(configPath); err != nil {
		return nil, err
	}

	log := logger.NewCLI(verbose)
	orch, err := orchestrator.New(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, err
	}
	if cfg.History.DSN != "" {
		sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return nil, err
		}
		orch.AddSink(sink)
	}
	return &Stack{cfg: cfg, orch: orch, log: log}, nil
}

func (s *Stack) Logger() *slog.Logger { return s.log }

func (s *Stack) Install(ctx context.Context, opts InstallOptions) (*Report, error) {
	return s.orch.Install(ctx, opts)
}

func (s *Stack) Start(ctx context.Context, opts StartOptions) (*Report, error) {
	return s.orch.Start(ctx, opts)
}

func (s *Stack) Stop(ctx context.Context, opts StopOptions) (*Report, error) {
	return s.orch.Stop(ctx, opts)
}

func (s *Stack) Test(ctx context.Context, opts TestOptions) *TestReport {
	return s.orch.Test(ctx, opts)
}

// Firewall applies or removes the stack's firewall rules. Non-zero port
// overrides replace the configured rule set.
func (s *Stack) Firewall(ctx context.Context, remove bool, port, runtimePort int) (*Report, error) {
	return s.orch.Firewall(ctx, remove, port, runtimePort)
}

// Serve starts the status API on the configured listen address and returns
// the running server.
func (s *Stack) Serve() *http.Server {
	return server.NewServer(s.cfg.Server.Listen, s.cfg.Server.BasePath, s.cfg.Server.Metrics, s.orch.Supervisor())
}
