package orchestrator

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/loykin/aistack/internal/health"
	"github.com/loykin/aistack/internal/installer"
)

// StartOptions control the start workflow. Zero values fall back to the
// configured defaults.
type StartOptions struct {
	// Headless launches the web service detached and returns after the
	// readiness wait instead of blocking on the process lifetime.
	Headless    bool
	SkipRuntime bool
	Port        int
	BindHost    string
}

// Start brings the stack up: reclaim ports, ensure the runtime, wait for its
// readiness, start the web service and any extra services, then summarize
// access points. A port that cannot be reclaimed is fatal; everything else
// is reported and the workflow continues.
func (o *Orchestrator) Start(ctx context.Context, opts StartOptions) (*Report, error) {
	r := NewReport("start")
	defer r.Finish(ctx, o.log, o.sinks)

	port := opts.Port
	if port == 0 {
		port = o.cfg.Web.Port
	}

	if err := o.reclaimPort(port, false); err != nil {
		r.Add("ports", OutcomeFailed, fmt.Sprintf("port %d: %v", port, err))
		return r, fmt.Errorf("%w: %d", ErrPortInUse, port)
	}
	r.Add("ports", OutcomeOK, "")

	if opts.SkipRuntime {
		r.Add("runtime", OutcomeSkipped, "skipped by flag")
	} else {
		o.startRuntime(ctx, r)
	}

	o.verifyEnvironment(r)

	webSpec := o.cfg.WebSpec(opts.BindHost, opts.Port, opts.Headless)
	h, err := o.sup.EnsureRunning(webSpec)
	if err != nil {
		r.Add("web", OutcomeFailed, err.Error())
		return r, err
	}
	if o.webWait.WaitReady(ctx, health.HTTPProbe{URL: webSpec.ReadyURL}) {
		r.Add("web", OutcomeOK, "")
	} else {
		r.Add("web", OutcomeFailed, "readiness probe never succeeded")
	}

	o.startServices(ctx, r)

	r.Add("access", OutcomeOK, strings.Join(AccessPoints(port), ", "))

	if !opts.Headless && h != nil && !h.Adopted() {
		// Foreground mode: the workflow owns the web process lifetime.
		return r, h.Wait()
	}
	return r, nil
}

// startRuntime ensures the inference runtime is installed, running and
// ready. Adopting an already-healthy runtime is the fast path: the first
// probe succeeds and no retry loop runs.
func (o *Orchestrator) startRuntime(ctx context.Context, r *Report) {
	if out, err := o.inst.EnsureRuntimeInstalled(ctx, false); err != nil {
		r.Add("runtime_install", OutcomeFailed, err.Error())
	} else if out == installer.OutcomeSkipped {
		r.Add("runtime_install", OutcomeSkipped, "already installed")
	} else {
		r.Add("runtime_install", OutcomeOK, "")
	}

	spec := o.cfg.RuntimeSpec()
	if _, err := o.sup.EnsureRunning(spec); err != nil {
		r.Add("runtime", OutcomeFailed, err.Error())
		return
	}
	if o.wait.WaitReady(ctx, health.HTTPProbe{URL: spec.ReadyURL}) {
		r.Add("runtime", OutcomeOK, "")
	} else {
		r.Add("runtime", OutcomeFailed, "readiness probe never succeeded")
	}
}

// verifyEnvironment confirms the web service's virtualenv exists. A missing
// environment downgrades to a warning; the configured command may not need
// one.
func (o *Orchestrator) verifyEnvironment(r *Report) {
	dir := o.cfg.Web.WorkDir
	if dir == "" {
		dir = "."
	}
	if _, err := os.Stat(venvPython(dir)); err != nil {
		r.Add("environment", OutcomeSkipped, "warning: virtualenv not found, run install first")
		return
	}
	r.Add("environment", OutcomeOK, "")
}

func (o *Orchestrator) startServices(ctx context.Context, r *Report) {
	specs, err := o.cfg.ServiceSpecs()
	if err != nil {
		r.Add("services", OutcomeFailed, err.Error())
		return
	}
	for _, spec := range specs {
		step := "service:" + spec.Name
		if _, err := o.sup.EnsureRunning(spec); err != nil {
			r.Add(step, OutcomeFailed, err.Error())
			continue
		}
		switch {
		case spec.ReadyURL != "":
			if o.webWait.WaitReady(ctx, health.HTTPProbe{URL: spec.ReadyURL}) {
				r.Add(step, OutcomeOK, "")
			} else {
				r.Add(step, OutcomeFailed, "readiness probe never succeeded")
			}
		case spec.ReadyPort > 0:
			if o.webWait.WaitReady(ctx, health.TCPProbe{Port: spec.ReadyPort}) {
				r.Add(step, OutcomeOK, "")
			} else {
				r.Add(step, OutcomeFailed, "port never opened")
			}
		default:
			r.Add(step, OutcomeOK, "")
		}
	}
}

// AccessPoints lists the addresses the web service is reachable on,
// classified as local, LAN or overlay-network.
func AccessPoints(port int) []string {
	out := []string{fmt.Sprintf("local http://localhost:%d", port)}
	ifaces, err := net.Interfaces()
	if err != nil {
		return out
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipnet.IP.To4()
			if ip == nil {
				continue
			}
			kind := "lan"
			if isOverlay(iface.Name, ip) {
				kind = "overlay"
			}
			out = append(out, fmt.Sprintf("%s http://%s:%d", kind, ip, port))
		}
	}
	return out
}

// isOverlay classifies mesh-VPN addresses: interface naming conventions
// (tailscale, zerotier, wireguard) or the CGNAT range 100.64.0.0/10 used by
// tailnets.
func isOverlay(ifaceName string, ip net.IP) bool {
	name := strings.ToLower(ifaceName)
	for _, p := range []string{"ts", "tailscale", "zt", "wg"} {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return ip[0] == 100 && ip[1] >= 64 && ip[1] <= 127
}
