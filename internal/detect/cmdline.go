package detect

import (
	"os"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// CmdlineDetector matches processes by a launch-argument signature: every
// element of Args must appear in the candidate's command line. Matching on
// the full argument signature instead of the executable name avoids killing
// unrelated same-named processes.
type CmdlineDetector struct {
	Args []string
}

func (d CmdlineDetector) find() (int, bool) {
	if len(d.Args) == 0 {
		return 0, false
	}
	procs, err := gopsproc.Processes()
	if err != nil {
		return 0, false
	}
	self := os.Getpid()
	for _, p := range procs {
		if int(p.Pid) == self {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil || cmdline == "" {
			continue
		}
		matched := true
		for _, a := range d.Args {
			if !strings.Contains(cmdline, a) {
				matched = false
				break
			}
		}
		if matched {
			return int(p.Pid), true
		}
	}
	return 0, false
}

func (d CmdlineDetector) Alive() (bool, error) {
	_, ok := d.find()
	return ok, nil
}

func (d CmdlineDetector) ResolvePID() (int, bool) { return d.find() }

func (d CmdlineDetector) Describe() string {
	return "cmdline:" + strings.Join(d.Args, " ")
}
