package process

import (
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// State is the lifecycle state of a service handle.
type State string

const (
	StateNotRunning State = "not_running"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateStopping   State = "stopping"
	StateFailed     State = "failed"
)

// Status is a point-in-time snapshot of a handle.
type Status struct {
	Name      string    `json:"name"`
	State     State     `json:"state"`
	PID       int       `json:"pid"`
	Adopted   bool      `json:"adopted"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitErr   error     `json:"exit_error,omitempty"`
}

// Handle is the runtime binding of a Spec to an OS process. It is owned
// exclusively by the Supervisor; at most one live handle exists per spec
// name at any time.
type Handle struct {
	mu        sync.Mutex
	spec      Spec
	pid       int
	cmd       *exec.Cmd // nil for adopted processes
	adopted   bool
	state     State
	startedAt time.Time
	stoppedAt time.Time
	exitErr   error
	outCloser io.WriteCloser
	errCloser io.WriteCloser
	waitDone  chan struct{} // closed by the monitor when cmd.Wait returns
}

func (h *Handle) Spec() Spec {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.spec
}

func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid
}

func (h *Handle) Adopted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.adopted
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Snapshot returns a copy of the current status.
func (h *Handle) Snapshot() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Status{
		Name:      h.spec.Name,
		State:     h.state,
		PID:       h.pid,
		Adopted:   h.adopted,
		StartedAt: h.startedAt,
		StoppedAt: h.stoppedAt,
		ExitErr:   h.exitErr,
	}
}

// Alive probes liveness of the bound process without touching os/exec
// internals of a possibly concurrent waiter.
func (h *Handle) Alive() bool {
	h.mu.Lock()
	pid := h.pid
	wd := h.waitDone
	h.mu.Unlock()
	if pid <= 0 {
		return false
	}
	if wd != nil {
		select {
		case <-wd:
			return false
		default:
		}
	}
	return processExists(pid)
}

// Wait blocks until a spawned process exits and returns its exit error.
// Adopted handles return immediately: the caller does not own their lifetime.
func (h *Handle) Wait() error {
	h.mu.Lock()
	wd := h.waitDone
	h.mu.Unlock()
	if wd == nil {
		return nil
	}
	<-wd
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *Handle) markExited(err error) {
	h.mu.Lock()
	h.state = StateNotRunning
	h.stoppedAt = time.Now()
	h.exitErr = err
	h.mu.Unlock()
}

func (h *Handle) closeWriters() {
	h.mu.Lock()
	out, errW := h.outCloser, h.errCloser
	h.outCloser, h.errCloser = nil, nil
	h.mu.Unlock()
	if out != nil {
		_ = out.Close()
	}
	if errW != nil {
		_ = errW.Close()
	}
}

func (h *Handle) writePIDFile() {
	h.mu.Lock()
	pidFile := h.spec.PIDFile
	pid := h.pid
	h.mu.Unlock()
	if pidFile == "" || pid == 0 {
		return
	}
	_ = os.MkdirAll(filepath.Dir(pidFile), 0o750)
	_ = os.WriteFile(pidFile, []byte(strconv.Itoa(pid)), 0o600)
}

// removePIDFile best-effort
func (h *Handle) removePIDFile() {
	h.mu.Lock()
	pidFile := h.spec.PIDFile
	adopted := h.adopted
	h.mu.Unlock()
	if pidFile == "" || adopted {
		return
	}
	_ = os.Remove(pidFile)
}
