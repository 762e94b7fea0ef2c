//go:build windows

package firewall

import (
	"fmt"
	"os/exec"
	"strings"
)

// NetshCapability mutates Windows Defender Firewall rules through netsh.
type NetshCapability struct{}

// NewOSCapability returns the platform's firewall capability.
func NewOSCapability() Capability { return NetshCapability{} }

// Elevated probes for administrator rights. `net session` fails with a
// nonzero exit code when not elevated.
func (NetshCapability) Elevated() bool {
	return exec.Command("net", "session").Run() == nil
}

func (NetshCapability) AddRule(r Rule) error {
	proto := strings.ToUpper(r.Protocol)
	if proto == "" {
		proto = "TCP"
	}
	dir := "in"
	if strings.EqualFold(r.Direction, "out") {
		dir = "out"
	}
	args := []string{
		"advfirewall", "firewall", "add", "rule",
		"name=" + r.Name,
		"dir=" + dir,
		"action=allow",
		"protocol=" + proto,
		fmt.Sprintf("localport=%d", r.Port),
	}
	if r.Description != "" {
		args = append(args, "description="+r.Description)
	}
	// #nosec G204 -- args assembled from a declarative rule set
	out, err := exec.Command("netsh", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("netsh add rule: %v: %s", err, out)
	}
	return nil
}

func (NetshCapability) RemoveRule(name string) error {
	// #nosec G204 -- name comes from a declarative rule set
	out, err := exec.Command("netsh", "advfirewall", "firewall", "delete", "rule", "name="+name).CombinedOutput()
	if err != nil {
		if strings.Contains(string(out), "No rules match") {
			return nil
		}
		return fmt.Errorf("netsh delete rule: %v: %s", err, out)
	}
	return nil
}

func (NetshCapability) ListRuleNames() ([]string, error) {
	out, err := exec.Command("netsh", "advfirewall", "firewall", "show", "rule", "name=all").CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("netsh show rules: %v: %s", err, out)
	}
	return parseNetshRuleNames(string(out)), nil
}

func parseNetshRuleNames(out string) []string {
	seen := map[string]bool{}
	var names []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Rule Name:") {
			continue
		}
		name := strings.TrimSpace(strings.TrimPrefix(line, "Rule Name:"))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
