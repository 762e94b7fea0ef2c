package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/aistack/internal/process"
)

// StopOptions control the stop workflow.
type StopOptions struct {
	// Force kills immediately instead of graceful-then-escalate, and
	// enables the old-log sweep.
	Force bool
	// KeepRuntime leaves the inference runtime running so other consumers
	// keep working.
	KeepRuntime bool
}

// logRetention is how long log files survive a forced-stop sweep.
const logRetention = 7 * 24 * time.Hour

// Stop tears the stack down. Services are stopped both by spec match and by
// port ownership; a renamed or wrapped process misses the first path but not
// the second. Target ports are verified free at the end.
func (o *Orchestrator) Stop(ctx context.Context, opts StopOptions) (*Report, error) {
	r := NewReport("stop")
	defer r.Finish(ctx, o.log, o.sinks)

	o.stopByName(r, "web", o.cfg.WebSpec("", 0, false), opts.Force)
	o.stopByPort(r, "web_port", o.cfg.Web.Port, opts.Force)

	if specs, err := o.cfg.ServiceSpecs(); err != nil {
		r.Add("services", OutcomeFailed, err.Error())
	} else {
		for _, spec := range specs {
			o.stopByName(r, "service:"+spec.Name, spec, opts.Force)
		}
	}

	if opts.KeepRuntime {
		r.Add("runtime", OutcomeSkipped, "kept by flag")
	} else {
		o.stopByName(r, "runtime", o.cfg.RuntimeSpec(), opts.Force)
		o.stopByPort(r, "runtime_port", o.cfg.Runtime.Port, opts.Force)
	}

	o.verifyPortsFree(r, opts.KeepRuntime)

	if opts.Force {
		o.sweepLogs(r)
	}
	return r, nil
}

// stopByName adopts a live process matching the spec and stops it. No match
// is a skip: the service was already down.
func (o *Orchestrator) stopByName(r *Report, step string, spec process.Spec, force bool) {
	h, ok := o.sup.Adopt(spec)
	if !ok {
		r.Add(step, OutcomeSkipped, "not running")
		return
	}
	escalated, err := o.sup.Stop(h, force)
	if err != nil {
		r.Add(step, OutcomeFailed, err.Error())
		return
	}
	reason := ""
	if escalated {
		reason = "escalated to kill"
	}
	r.Add(step, OutcomeOK, reason)
}

// stopByPort reclaims a port from whatever still owns it.
func (o *Orchestrator) stopByPort(r *Report, step string, port int, force bool) {
	released, err := o.sup.ReleasePort(port, force)
	switch {
	case err != nil:
		r.Add(step, OutcomeFailed, err.Error())
	case released:
		r.Add(step, OutcomeOK, "")
	default:
		r.Add(step, OutcomeSkipped, "no owner")
	}
}

func (o *Orchestrator) verifyPortsFree(r *Report, keepRuntime bool) {
	ports := []int{o.cfg.Web.Port}
	if !keepRuntime {
		ports = append(ports, o.cfg.Runtime.Port)
	}
	for _, p := range ports {
		if !o.ports.IsAvailable(p) {
			r.Add("verify_ports", OutcomeFailed, fmt.Sprintf("port %d still in use", p))
			return
		}
	}
	r.Add("verify_ports", OutcomeOK, "")
}

// sweepLogs deletes log files older than the retention window.
func (o *Orchestrator) sweepLogs(r *Report) {
	dir := o.cfg.Log.Dir
	entries, err := os.ReadDir(dir)
	if err != nil {
		r.Add("log_sweep", OutcomeSkipped, "no log directory")
		return
	}
	cutoff := time.Now().Add(-logRetention)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
			removed++
		}
	}
	r.Add("log_sweep", OutcomeOK, fmt.Sprintf("removed %d old files", removed))
}
