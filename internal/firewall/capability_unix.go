//go:build !windows

package firewall

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// UFWCapability mutates rules through the uncomplicated firewall CLI.
// Rule names are carried as ufw comments so they can be listed and
// removed by name.
type UFWCapability struct{}

// NewOSCapability returns the platform's firewall capability.
func NewOSCapability() Capability { return UFWCapability{} }

func (UFWCapability) Elevated() bool { return os.Geteuid() == 0 }

func (UFWCapability) AddRule(r Rule) error {
	proto := strings.ToLower(r.Protocol)
	if proto == "" {
		proto = "tcp"
	}
	dir := "allow"
	if strings.EqualFold(r.Direction, "out") {
		dir = "allow out"
	}
	args := append(strings.Fields(dir), fmt.Sprintf("%d/%s", r.Port, proto), "comment", r.Name)
	// #nosec G204 -- args assembled from a declarative rule set
	out, err := exec.Command("ufw", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("ufw allow: %v: %s", err, out)
	}
	return nil
}

func (UFWCapability) RemoveRule(name string) error {
	rules, err := ufwNumberedRules()
	if err != nil {
		return err
	}
	// Delete from the highest number down so indices stay valid.
	for i := len(rules) - 1; i >= 0; i-- {
		if rules[i].comment != name {
			continue
		}
		// #nosec G204 -- numeric index from our own listing
		out, err := exec.Command("ufw", "--force", "delete", rules[i].number).CombinedOutput()
		if err != nil {
			return fmt.Errorf("ufw delete: %v: %s", err, out)
		}
	}
	return nil
}

func (UFWCapability) ListRuleNames() ([]string, error) {
	rules, err := ufwNumberedRules()
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	names := make([]string, 0, len(rules))
	for _, r := range rules {
		if r.comment == "" || seen[r.comment] {
			continue
		}
		seen[r.comment] = true
		names = append(names, r.comment)
	}
	return names, nil
}

type ufwRule struct {
	number  string
	comment string
}

// ufwNumberedRules parses `ufw status numbered`. Lines look like
// "[ 1] 8001/tcp ALLOW IN Anywhere # AIStack Web Service".
func ufwNumberedRules() ([]ufwRule, error) {
	out, err := exec.Command("ufw", "status", "numbered").CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ufw status: %v: %s", err, out)
	}
	return parseUFWNumbered(string(out)), nil
}

func parseUFWNumbered(out string) []ufwRule {
	var rules []ufwRule
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "[") {
			continue
		}
		end := strings.Index(line, "]")
		if end < 0 {
			continue
		}
		num := strings.TrimSpace(line[1:end])
		comment := ""
		if idx := strings.Index(line, "#"); idx >= 0 {
			comment = strings.TrimSpace(line[idx+1:])
		}
		rules = append(rules, ufwRule{number: num, comment: comment})
	}
	return rules
}
