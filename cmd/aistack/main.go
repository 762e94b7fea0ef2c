package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires all subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	installFlags := &InstallFlags{}
	startFlags := &StartFlags{}
	stopFlags := &StopFlags{}
	testFlags := &TestFlags{}
	firewallFlags := &FirewallFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createInstallCommand(globalFlags, installFlags),
		createStartCommand(globalFlags, startFlags),
		createStopCommand(globalFlags, stopFlags),
		createTestCommand(globalFlags, testFlags),
		createFirewallCommand(globalFlags, firewallFlags),
		createServeCommand(globalFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "aistack",
		Short: "Local AI stack lifecycle manager",
		Long: `Aistack installs, starts, stops and verifies a local AI stack:
an inference runtime serving models over HTTP and a managed web service
in front of it.

Examples:
  aistack install                       # Install runtime, models, firewall rules
  aistack start                         # Bring the stack up (headless)
  aistack test --verbose                # Run the diagnostic battery
  aistack stop --keep-runtime           # Stop the web service, keep the runtime`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().BoolVar(&flags.Verbose, "verbose", false, "verbose logging")
	return root
}

func createInstallCommand(globalFlags *GlobalFlags, f *InstallFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the runtime, Python environment, firewall rules and models",
		Long: `Install converges the host on a working stack: advisory prerequisite
checks, inference-runtime install, Python virtualenv with dependencies,
privilege-gated firewall rules and model downloads, ending with a reduced
self-test.

Examples:
  aistack install
  aistack install --models=llama3.2:3b --skip-firewall
  aistack install --production --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd, globalFlags, f)
		},
	}
	cmd.Flags().BoolVar(&f.SkipRuntime, "skip-runtime", false, "skip the inference-runtime install")
	cmd.Flags().BoolVar(&f.SkipFirewall, "skip-firewall", false, "skip firewall rule setup")
	cmd.Flags().BoolVar(&f.SkipModels, "skip-models", false, "skip model downloads")
	cmd.Flags().StringSliceVar(&f.Models, "models", nil, "models to install (default from config)")
	cmd.Flags().BoolVar(&f.Production, "production", false, "install production dependencies only")
	cmd.Flags().BoolVar(&f.Force, "force", false, "reinstall the runtime even when present")
	return cmd
}

func createStartCommand(globalFlags *GlobalFlags, f *StartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the inference runtime and the web service",
		Long: `Start reclaims the required ports, ensures the runtime is up and
healthy, then starts the web service. Headless mode (the default) returns
after the readiness wait; --headless=false blocks on the web process.

Examples:
  aistack start
  aistack start --port=9001 --bind-host=127.0.0.1
  aistack start --headless=false --skip-runtime`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, globalFlags, f)
		},
	}
	cmd.Flags().BoolVar(&f.Headless, "headless", true, "detach the web service and return after readiness")
	cmd.Flags().BoolVar(&f.SkipRuntime, "skip-runtime", false, "do not manage the inference runtime")
	cmd.Flags().IntVar(&f.Port, "port", 8001, "web service port")
	cmd.Flags().StringVar(&f.BindHost, "bind-host", "0.0.0.0", "web service bind address")
	return cmd
}

func createStopCommand(globalFlags *GlobalFlags, f *StopFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the web service and, unless kept, the inference runtime",
		Long: `Stop tears the stack down by match predicate and by port ownership,
verifies the ports are free, and with --force sweeps logs older than
seven days.

Examples:
  aistack stop
  aistack stop --keep-runtime
  aistack stop --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cmd, globalFlags, f)
		},
	}
	cmd.Flags().BoolVar(&f.Force, "force", false, "kill immediately and sweep old logs")
	cmd.Flags().BoolVar(&f.KeepRuntime, "keep-runtime", false, "leave the inference runtime running")
	return cmd
}

func createTestCommand(globalFlags *GlobalFlags, f *TestFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run the diagnostic check battery",
		Long: `Test runs independent checks against the host and the running stack;
each reports PASS, FAIL or ERROR and a final pass rate is printed. A
non-perfect pass rate exits 1.

Examples:
  aistack test
  aistack test --host=192.168.1.20 --port=9001 --verbose
  aistack test --skip-web --skip-models`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(cmd, globalFlags, f)
		},
	}
	cmd.Flags().StringVar(&f.Host, "host", "localhost", "web service host to test against")
	cmd.Flags().IntVar(&f.Port, "port", 8001, "web service port to test against")
	cmd.Flags().BoolVar(&f.SkipModels, "skip-models", false, "skip model presence checks")
	cmd.Flags().BoolVar(&f.SkipWeb, "skip-web", false, "skip web service checks")
	cmd.Flags().BoolVar(&f.Verbose, "verbose", false, "print every check, not only failures")
	return cmd
}

func createFirewallCommand(globalFlags *GlobalFlags, f *FirewallFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "firewall",
		Short: "Apply or remove the stack's firewall rules",
		Long: `Firewall applies (or with --remove tears down) the inbound rules for
the web service and runtime ports. Requires elevation.

Examples:
  aistack firewall
  aistack firewall --port=9001 --runtime-port=11434
  aistack firewall --remove`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFirewall(cmd, globalFlags, f)
		},
	}
	cmd.Flags().BoolVar(&f.Remove, "remove", false, "remove the rules instead of applying them")
	cmd.Flags().IntVar(&f.Port, "port", 8001, "web service port")
	cmd.Flags().IntVar(&f.RuntimePort, "runtime-port", 11434, "inference runtime port")
	return cmd
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the status API server",
		Long: `Serve exposes the status API (and Prometheus metrics when enabled)
on the configured listen address and blocks until interrupted.

Examples:
  aistack serve
  aistack serve --config=aistack.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, globalFlags)
		},
	}
}
