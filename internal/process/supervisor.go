package process

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/loykin/aistack/internal/detect"
	"github.com/loykin/aistack/internal/env"
	"github.com/loykin/aistack/internal/metrics"
	"github.com/loykin/aistack/internal/netprobe"
)

// ErrLaunchFailed wraps OS spawn failures from EnsureRunning.
var ErrLaunchFailed = errors.New("launch failed")

// killGrace bounds how long we wait for a kill to be reaped.
const killGrace = 500 * time.Millisecond

// Supervisor starts, adopts, monitors, and stops services. It enforces at
// most one handle per spec name.
type Supervisor struct {
	mu      sync.Mutex
	envM    *env.Env
	handles map[string]*Handle
}

func NewSupervisor() *Supervisor {
	return &Supervisor{
		envM:    env.New(),
		handles: make(map[string]*Handle),
	}
}

// SetGlobalEnv sets K=V overrides applied to every spawned service.
func (s *Supervisor) SetGlobalEnv(kvs map[string]string) {
	for k, v := range kvs {
		s.envM.Set(k, v)
	}
}

// Status returns the snapshot for a named handle.
func (s *Supervisor) Status(name string) (Status, bool) {
	s.mu.Lock()
	h := s.handles[name]
	s.mu.Unlock()
	if h == nil {
		return Status{}, false
	}
	return h.Snapshot(), true
}

// Handle returns the registered handle for a name.
func (s *Supervisor) Handle(name string) (*Handle, bool) {
	s.mu.Lock()
	h := s.handles[name]
	s.mu.Unlock()
	return h, h != nil
}

// Statuses returns snapshots for all known handles.
func (s *Supervisor) Statuses() []Status {
	s.mu.Lock()
	hs := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		hs = append(hs, h)
	}
	s.mu.Unlock()
	out := make([]Status, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.Snapshot())
	}
	return out
}

// Adopt binds a handle to an already-running process matching the spec's
// predicates, without spawning anything. Returns false when no match is
// alive. A predicate that reports alive but cannot resolve a PID still
// yields a handle; such a handle cannot be stopped through the supervisor.
func (s *Supervisor) Adopt(spec Spec) (*Handle, bool) {
	aliveNoPID := false
	for _, d := range spec.matchers() {
		if r, ok := d.(detect.PIDResolver); ok {
			if pid, found := r.ResolvePID(); found {
				return s.bindAdopted(spec, pid), true
			}
			continue
		}
		if ok, _ := d.Alive(); ok {
			aliveNoPID = true
		}
	}
	if aliveNoPID {
		return s.bindAdopted(spec, 0), true
	}
	return nil, false
}

func (s *Supervisor) bindAdopted(spec Spec, pid int) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h := s.handles[spec.Name]; h != nil && h.Alive() {
		return h
	}
	h := &Handle{spec: spec, pid: pid, adopted: true, state: StateRunning, startedAt: time.Now()}
	s.handles[spec.Name] = h
	return h
}

// EnsureRunning implements adopt-or-spawn: if a process matching the spec's
// predicates is already alive the returned handle is bound to it, otherwise
// the spec's command is spawned. The call never blocks on readiness.
func (s *Supervisor) EnsureRunning(spec Spec) (*Handle, error) {
	s.mu.Lock()
	if h := s.handles[spec.Name]; h != nil && h.Alive() {
		s.mu.Unlock()
		return h, nil
	}
	s.mu.Unlock()

	if h, ok := s.Adopt(spec); ok {
		return h, nil
	}
	return s.spawn(spec)
}

func (s *Supervisor) spawn(spec Spec) (*Handle, error) {
	h := &Handle{spec: spec, state: StateStarting}

	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	cmd.Env = s.envM.Merge(spec.Env)
	configureSysProcAttr(cmd, spec)

	startedAt := time.Now()
	if spec.Log.File.Dir != "" || spec.Log.File.StdoutPath != "" || spec.Log.File.StderrPath != "" {
		if spec.Log.File.Dir != "" {
			_ = os.MkdirAll(spec.Log.File.Dir, 0o750)
		}
		outW, errW, _ := spec.Log.Writers(spec.Name, startedAt)
		h.outCloser, h.errCloser = outW, errW
		if outW != nil {
			cmd.Stdout = outW
		} else {
			cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
		}
		if errW != nil {
			cmd.Stderr = errW
		} else {
			cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
		}
	} else {
		null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		cmd.Stdout = null
		cmd.Stderr = null
	}

	if err := cmd.Start(); err != nil {
		h.closeWriters()
		h.setState(StateFailed)
		return nil, fmt.Errorf("%w: %s: %v", ErrLaunchFailed, spec.Name, err)
	}

	h.mu.Lock()
	h.cmd = cmd
	h.pid = cmd.Process.Pid
	h.startedAt = startedAt
	h.state = StateRunning
	h.waitDone = make(chan struct{})
	wd := h.waitDone
	h.mu.Unlock()
	h.writePIDFile()

	s.mu.Lock()
	s.handles[spec.Name] = h
	s.mu.Unlock()
	metrics.IncStart(spec.Name)

	// Reap the child and finalize state when it exits.
	go func() {
		err := cmd.Wait()
		h.markExited(err)
		h.closeWriters()
		h.removePIDFile()
		close(wd)
	}()

	return h, nil
}

// Stop terminates the handle's process. With force it kills immediately;
// otherwise it requests graceful termination, waits up to the spec's
// stop timeout and escalates to a kill. The returned bool reports whether
// escalation fired. Stopping an already-stopped handle is a no-op success.
func (s *Supervisor) Stop(h *Handle, force bool) (bool, error) {
	if h == nil {
		return false, nil
	}
	if !h.Alive() {
		h.setState(StateNotRunning)
		return false, nil
	}
	pid := h.PID()
	if pid <= 0 {
		// Adopted via a predicate that could not name the process.
		return false, nil
	}
	h.setState(StateStopping)
	defer metrics.IncStop(h.Spec().Name)

	if force {
		_ = killProcess(pid)
		s.awaitExit(h, pid, killGrace)
		h.markExited(nil)
		h.removePIDFile()
		return false, nil
	}

	_ = terminateProcess(pid)
	if s.awaitExit(h, pid, h.Spec().stopTimeout()) {
		h.markExited(nil)
		h.removePIDFile()
		return false, nil
	}
	// Still alive after the graceful window: escalate.
	_ = killProcess(pid)
	s.awaitExit(h, pid, killGrace)
	h.markExited(nil)
	h.removePIDFile()
	return true, nil
}

// awaitExit waits until the process is gone or the timeout elapses.
// Spawned handles wait on the reaper; adopted ones poll the pid.
func (s *Supervisor) awaitExit(h *Handle, pid int, timeout time.Duration) bool {
	h.mu.Lock()
	wd := h.waitDone
	h.mu.Unlock()
	if wd != nil {
		select {
		case <-wd:
			return true
		case <-time.After(timeout):
			return false
		}
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processExists(pid) {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return !processExists(pid)
}

// ReleasePort stops whatever process currently owns the TCP port, using the
// same graceful/forced policy as Stop. Unresolvable or system owners are
// silently skipped, never an error. Returns whether a process was stopped.
func (s *Supervisor) ReleasePort(port int, force bool) (bool, error) {
	pid, ok := netprobe.FindOwningProcess(port)
	if !ok || pid <= 1 {
		return false, nil
	}
	h := &Handle{
		spec:    Spec{Name: fmt.Sprintf("port-%d", port), StopTimeout: DefaultStopTimeout},
		pid:     pid,
		adopted: true,
		state:   StateRunning,
	}
	_, err := s.Stop(h, force)
	return true, err
}

// Forget drops the named handle from the registry. It does not touch the
// underlying process; callers stop it first.
func (s *Supervisor) Forget(name string) {
	s.mu.Lock()
	delete(s.handles, name)
	s.mu.Unlock()
}
