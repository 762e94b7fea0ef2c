// Package firewall declares the stack's network-access rules and applies or
// removes them through an OS capability abstraction. Application is
// idempotent: re-applying a rule replaces the same-named rule.
package firewall

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrPrivilegeRequired reports a capability invoked without elevation.
var ErrPrivilegeRequired = errors.New("privilege required")

// Outcome classifies a per-rule result.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Rule is one declarative network-access rule.
type Rule struct {
	Name        string `json:"name" mapstructure:"name"`
	Port        int    `json:"port" mapstructure:"port"`
	Protocol    string `json:"protocol" mapstructure:"protocol"`   // "tcp" or "udp"
	Direction   string `json:"direction" mapstructure:"direction"` // "in" or "out"
	Description string `json:"description" mapstructure:"description"`
}

// RuleResult is the per-rule outcome of Apply or Remove.
type RuleResult struct {
	Name    string  `json:"name"`
	Outcome Outcome `json:"outcome"`
	Err     error   `json:"-"`
}

// DefaultRules returns the stack's rule set for the given service and
// runtime ports.
func DefaultRules(servicePort, runtimePort int) []Rule {
	return []Rule{
		{
			Name:        "AIStack Web Service",
			Port:        servicePort,
			Protocol:    "tcp",
			Direction:   "in",
			Description: "Allow inbound access to the managed HTTP service",
		},
		{
			Name:        "AIStack Inference Runtime",
			Port:        runtimePort,
			Protocol:    "tcp",
			Direction:   "in",
			Description: "Allow inbound access to the local inference runtime",
		},
	}
}

// Capability is the OS-level firewall surface. Implementations wrap netsh,
// ufw or an equivalent administrative tool.
type Capability interface {
	// Elevated reports whether the current process may mutate rules.
	Elevated() bool
	AddRule(r Rule) error
	RemoveRule(name string) error
	// ListRuleNames returns the names of currently present rules managed
	// by this capability.
	ListRuleNames() ([]string, error)
}

// Configurator applies and removes rule sets through a Capability.
type Configurator struct {
	Cap    Capability
	Logger *slog.Logger
}

func (c *Configurator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Apply creates every rule, removing any existing same-named rule first so
// repeated application yields exactly one rule per name. Failures are
// per-rule; one rule's failure never aborts the batch.
func (c *Configurator) Apply(rules []Rule) ([]RuleResult, error) {
	if !c.Cap.Elevated() {
		return nil, ErrPrivilegeRequired
	}
	existing, err := c.Cap.ListRuleNames()
	if err != nil {
		c.logger().Warn("rule listing failed, replacing blindly", "error", err)
	}
	present := map[string]bool{}
	for _, n := range existing {
		present[n] = true
	}

	results := make([]RuleResult, 0, len(rules))
	for _, r := range rules {
		if present[r.Name] {
			if err := c.Cap.RemoveRule(r.Name); err != nil {
				results = append(results, RuleResult{Name: r.Name, Outcome: OutcomeFailed,
					Err: fmt.Errorf("replace %s: %w", r.Name, err)})
				continue
			}
		}
		if err := c.Cap.AddRule(r); err != nil {
			c.logger().Error("rule apply failed", "rule", r.Name, "error", err)
			results = append(results, RuleResult{Name: r.Name, Outcome: OutcomeFailed, Err: err})
			continue
		}
		c.logger().Info("rule applied", "rule", r.Name, "port", r.Port)
		results = append(results, RuleResult{Name: r.Name, Outcome: OutcomeOK})
	}
	return results, nil
}

// Remove tears down the given rules. A rule that is not present is reported
// as skipped, not failed.
func (c *Configurator) Remove(rules []Rule) ([]RuleResult, error) {
	if !c.Cap.Elevated() {
		return nil, ErrPrivilegeRequired
	}
	existing, err := c.Cap.ListRuleNames()
	if err != nil {
		c.logger().Warn("rule listing failed, removing blindly", "error", err)
	}
	present := map[string]bool{}
	for _, n := range existing {
		present[n] = true
	}

	results := make([]RuleResult, 0, len(rules))
	for _, r := range rules {
		if err == nil && !present[r.Name] {
			results = append(results, RuleResult{Name: r.Name, Outcome: OutcomeSkipped})
			continue
		}
		if rmErr := c.Cap.RemoveRule(r.Name); rmErr != nil {
			results = append(results, RuleResult{Name: r.Name, Outcome: OutcomeFailed, Err: rmErr})
			continue
		}
		c.logger().Info("rule removed", "rule", r.Name)
		results = append(results, RuleResult{Name: r.Name, Outcome: OutcomeOK})
	}
	return results, nil
}
