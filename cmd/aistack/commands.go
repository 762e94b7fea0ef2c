package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/aistack"
	"github.com/loykin/aistack/internal/orchestrator"
)

func load(g *GlobalFlags, verbose bool) (*aistack.Stack, error) {
	return aistack.Load(g.ConfigPath, g.Verbose || verbose)
}

// printReport renders the per-step outcomes and the final verdict.
func printReport(r *aistack.Report) {
	fmt.Printf("workflow %s:\n", r.Workflow)
	for _, s := range r.Steps {
		line := fmt.Sprintf("  %-24s %s", s.Step, s.Outcome)
		if s.Reason != "" {
			line += "  (" + s.Reason + ")"
		}
		fmt.Println(line)
	}
	fmt.Printf("verdict: %s\n", r.Verdict())
}

func runInstall(cmd *cobra.Command, g *GlobalFlags, f *InstallFlags) error {
	stack, err := load(g, false)
	if err != nil {
		return err
	}
	r, err := stack.Install(cmd.Context(), aistack.InstallOptions{
		SkipRuntime:  f.SkipRuntime,
		SkipFirewall: f.SkipFirewall,
		SkipModels:   f.SkipModels,
		Models:       f.Models,
		Production:   f.Production,
		Force:        f.Force,
	})
	if r != nil {
		printReport(r)
	}
	if err != nil {
		return err
	}
	if r.Verdict() == orchestrator.VerdictFailure {
		return fmt.Errorf("install failed")
	}
	return nil
}

func runStart(cmd *cobra.Command, g *GlobalFlags, f *StartFlags) error {
	stack, err := load(g, false)
	if err != nil {
		return err
	}
	r, err := stack.Start(cmd.Context(), aistack.StartOptions{
		Headless:    f.Headless,
		SkipRuntime: f.SkipRuntime,
		Port:        f.Port,
		BindHost:    f.BindHost,
	})
	if r != nil {
		printReport(r)
	}
	return err
}

func runStop(cmd *cobra.Command, g *GlobalFlags, f *StopFlags) error {
	stack, err := load(g, false)
	if err != nil {
		return err
	}
	r, err := stack.Stop(cmd.Context(), aistack.StopOptions{
		Force:       f.Force,
		KeepRuntime: f.KeepRuntime,
	})
	if r != nil {
		printReport(r)
	}
	return err
}

func runTest(cmd *cobra.Command, g *GlobalFlags, f *TestFlags) error {
	stack, err := load(g, f.Verbose)
	if err != nil {
		return err
	}
	tr := stack.Test(cmd.Context(), aistack.TestOptions{
		Host:       f.Host,
		Port:       f.Port,
		SkipModels: f.SkipModels,
		SkipWeb:    f.SkipWeb,
		Verbose:    f.Verbose,
	})
	for _, c := range tr.Checks {
		line := fmt.Sprintf("  %-24s %s", c.Name, c.Status)
		if c.Detail != "" {
			line += "  (" + c.Detail + ")"
		}
		fmt.Println(line)
	}
	fmt.Printf("pass rate: %.0f%% (%d checks)\n", tr.PassRate()*100, len(tr.Checks))
	if !tr.Passed() {
		return fmt.Errorf("test battery failed")
	}
	return nil
}

func runFirewall(cmd *cobra.Command, g *GlobalFlags, f *FirewallFlags) error {
	stack, err := load(g, false)
	if err != nil {
		return err
	}
	r, err := stack.Firewall(cmd.Context(), f.Remove, f.Port, f.RuntimePort)
	if r != nil {
		printReport(r)
	}
	return err
}

func runServe(cmd *cobra.Command, g *GlobalFlags) error {
	stack, err := load(g, false)
	if err != nil {
		return err
	}
	srv := stack.Serve()
	stack.Logger().Info("status API listening", "addr", srv.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	stack.Logger().Info("shutting down")
	return srv.Close()
}
