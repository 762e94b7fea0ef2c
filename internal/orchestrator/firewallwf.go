package orchestrator

import (
	"context"
	"fmt"

	"github.com/loykin/aistack/internal/firewall"
)

// Firewall applies or removes the stack's rules as a standalone workflow.
// Non-zero port overrides replace the configured rule set. Without
// elevation the workflow fails upfront with ErrPrivilegeRequired.
func (o *Orchestrator) Firewall(ctx context.Context, remove bool, port, runtimePort int) (*Report, error) {
	name := "firewall_apply"
	if remove {
		name = "firewall_remove"
	}
	r := NewReport(name)
	defer r.Finish(ctx, o.log, o.sinks)

	rules := o.cfg.Firewall.Rules
	if port > 0 || runtimePort > 0 {
		if port <= 0 {
			port = o.cfg.Web.Port
		}
		if runtimePort <= 0 {
			runtimePort = o.cfg.Runtime.Port
		}
		rules = firewall.DefaultRules(port, runtimePort)
	}

	if !o.fw.Elevated() {
		r.Add("elevation", OutcomeFailed, "requires elevation")
		return r, firewall.ErrPrivilegeRequired
	}

	var (
		results []firewall.RuleResult
		err     error
	)
	if remove {
		results, err = o.fw.Remove(rules)
	} else {
		results, err = o.fw.Apply(rules)
	}
	if err != nil {
		r.Add("rules", OutcomeFailed, err.Error())
		return r, err
	}
	for _, res := range results {
		step := "rule:" + res.Name
		switch res.Outcome {
		case firewall.OutcomeSkipped:
			r.Add(step, OutcomeSkipped, "not present")
		case firewall.OutcomeFailed:
			reason := ""
			if res.Err != nil {
				reason = res.Err.Error()
			}
			r.Add(step, OutcomeFailed, reason)
		default:
			r.Add(step, OutcomeOK, fmt.Sprintf("port %d", rulePort(rules, res.Name)))
		}
	}
	return r, nil
}

func rulePort(rules []firewall.Rule, name string) int {
	for _, r := range rules {
		if r.Name == name {
			return r.Port
		}
	}
	return 0
}
