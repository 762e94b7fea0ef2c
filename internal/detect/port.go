package detect

import (
	"fmt"

	"github.com/loykin/aistack/internal/netprobe"
)

// PortDetector matches the process currently listening on a TCP port.
type PortDetector struct{ Port int }

func (d PortDetector) Alive() (bool, error) {
	_, ok := netprobe.FindOwningProcess(d.Port)
	if ok {
		return true, nil
	}
	// Owner lookup can fail where the connection table is restricted;
	// fall back to a plain reachability check.
	return !netprobe.IsAvailable(d.Port), nil
}

func (d PortDetector) ResolvePID() (int, bool) {
	return netprobe.FindOwningProcess(d.Port)
}

func (d PortDetector) Describe() string { return fmt.Sprintf("port:%d", d.Port) }
