package detect

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// PIDFileDetector detects a process via a PID file written at launch.
type PIDFileDetector struct {
	Path string
}

func (d PIDFileDetector) readPID() (int, error) {
	data, err := os.ReadFile(d.Path)
	if err != nil {
		return 0, err
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	pidStr := strings.TrimSpace(lines[0])
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid pid in %s: %w", d.Path, err)
	}
	return pid, nil
}

func (d PIDFileDetector) Alive() (bool, error) {
	pid, err := d.readPID()
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return pidAlive(pid), nil
}

func (d PIDFileDetector) ResolvePID() (int, bool) {
	pid, err := d.readPID()
	if err != nil || !pidAlive(pid) {
		return 0, false
	}
	return pid, true
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.Path }

// PIDDetector detects by an explicitly provided PID number.
type PIDDetector struct{ PID int }

func (d PIDDetector) Alive() (bool, error) { return pidAlive(d.PID), nil }

func (d PIDDetector) ResolvePID() (int, bool) {
	if !pidAlive(d.PID) {
		return 0, false
	}
	return d.PID, true
}

func (d PIDDetector) Describe() string { return fmt.Sprintf("pid:%d", d.PID) }
