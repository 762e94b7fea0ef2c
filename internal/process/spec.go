package process

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/aistack/internal/detect"
	"github.com/loykin/aistack/internal/logger"
)

// DefaultStopTimeout bounds graceful shutdown when a spec does not set one.
const DefaultStopTimeout = 10 * time.Second

// DetectorConfig represents a match-predicate configuration parsed from
// config files and resolved into a detect.Detector.
type DetectorConfig struct {
	Type    string   `json:"type" mapstructure:"type"`
	Path    string   `json:"path" mapstructure:"path"`
	PID     int      `json:"pid" mapstructure:"pid"`
	Port    int      `json:"port" mapstructure:"port"`
	Args    []string `json:"args" mapstructure:"args"`
}

// Spec describes a service to be managed. It is immutable once constructed;
// the supervisor copies it into the handle at EnsureRunning time.
type Spec struct {
	Name        string            `json:"name"`
	Command     string            `json:"command"`      // command to start the service (shell-aware)
	WorkDir     string            `json:"work_dir"`     // optional working dir
	Env         map[string]string `json:"env"`          // per-service environment overrides
	PIDFile     string            `json:"pid_file"`     // optional pidfile path; implies a pidfile match predicate
	StopTimeout time.Duration     `json:"stop_timeout"` // graceful-stop bound before escalation
	ReadyURL    string            `json:"ready_url"`    // optional readiness endpoint, consumed by the health waiter
	ReadyPort   int               `json:"ready_port"`   // optional readiness port, consumed by the health waiter
	Detached    bool              `json:"detached"`     // start in a new session so the service survives caller exit

	Detectors       []detect.Detector `json:"-" mapstructure:"-"`
	DetectorConfigs []DetectorConfig  `json:"detectors" mapstructure:"detectors"`

	Log logger.Config `json:"log"`
}

func (s Spec) stopTimeout() time.Duration {
	if s.StopTimeout > 0 {
		return s.StopTimeout
	}
	return DefaultStopTimeout
}

// resolve maps the serialized detector form to a live predicate.
func (c DetectorConfig) resolve() (detect.Detector, error) {
	switch c.Type {
	case "pidfile":
		if c.Path == "" {
			return nil, fmt.Errorf("pidfile detector requires path")
		}
		return detect.PIDFileDetector{Path: c.Path}, nil
	case "pid":
		if c.PID <= 0 {
			return nil, fmt.Errorf("pid detector requires positive pid")
		}
		return detect.PIDDetector{PID: c.PID}, nil
	case "cmdline":
		if len(c.Args) == 0 {
			return nil, fmt.Errorf("cmdline detector requires args")
		}
		return detect.CmdlineDetector{Args: c.Args}, nil
	case "port":
		if c.Port <= 0 {
			return nil, fmt.Errorf("port detector requires positive port")
		}
		return detect.PortDetector{Port: c.Port}, nil
	default:
		return nil, fmt.Errorf("unknown detector type %q", c.Type)
	}
}

// ValidateDetectors checks the serialized detector entries. Callers accepting
// a Spec over the wire reject it on error before handing it to the
// supervisor.
func (s Spec) ValidateDetectors() error {
	for _, c := range s.DetectorConfigs {
		if _, err := c.resolve(); err != nil {
			return fmt.Errorf("service %s: %w", s.Name, err)
		}
	}
	return nil
}

// matchers returns the spec's process-match predicates: an implicit pidfile
// predicate when PIDFile is set, the injected detectors, and the resolved
// serialized entries. Entries that fail to resolve are dropped here; wire
// inputs are validated up front via ValidateDetectors.
func (s Spec) matchers() []detect.Detector {
	dets := make([]detect.Detector, 0, len(s.Detectors)+len(s.DetectorConfigs)+1)
	if s.PIDFile != "" {
		dets = append(dets, detect.PIDFileDetector{Path: s.PIDFile})
	}
	dets = append(dets, s.Detectors...)
	for _, c := range s.DetectorConfigs {
		if d, err := c.resolve(); err == nil {
			dets = append(dets, d)
		}
	}
	return dets
}

// BuildCommand constructs an *exec.Cmd for the given spec.Command.
// It avoids invoking a shell when not necessary, and it also respects an
// explicit shell invocation already present in the command string
// (e.g. "sh -c 'echo hi'"), avoiding double-wrapping with another shell.
func (s *Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		return getTrueCommand()
	}
	if afterC, ok := parseExplicitShell(cmdStr); ok {
		return getShellCommand(afterC)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return getShellCommand(cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// ok: intentional execution, input comes from operator configuration
	// #nosec G204
	return exec.Command(name, args...)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>"
// at the beginning of cmdStr and returns the script after "-c" verbatim so
// quoting is preserved.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return after, true
		}
	}
	return "", false
}
