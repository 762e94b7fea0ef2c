package firewall

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

type fakeCapability struct {
	elevated bool
	rules    map[string]Rule
	order    []string
	addErr   map[string]error
	listErr  error
}

func newFakeCapability() *fakeCapability {
	return &fakeCapability{elevated: true, rules: map[string]Rule{}}
}

func (f *fakeCapability) Elevated() bool { return f.elevated }

func (f *fakeCapability) AddRule(r Rule) error {
	if err := f.addErr[r.Name]; err != nil {
		return err
	}
	if _, dup := f.rules[r.Name]; !dup {
		f.order = append(f.order, r.Name)
	}
	f.rules[r.Name] = r
	return nil
}

func (f *fakeCapability) RemoveRule(name string) error {
	delete(f.rules, name)
	for i, n := range f.order {
		if n == name {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeCapability) ListRuleNames() ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]string(nil), f.order...), nil
}

func testConfigurator(c Capability) *Configurator {
	return &Configurator{Cap: c, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestApplyIsIdempotent(t *testing.T) {
	cap := newFakeCapability()
	cfg := testConfigurator(cap)
	rules := DefaultRules(8001, 11434)

	for i := 0; i < 2; i++ {
		results, err := cfg.Apply(rules)
		if err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
		for _, r := range results {
			if r.Outcome != OutcomeOK {
				t.Fatalf("apply %d: rule %s outcome = %s", i, r.Name, r.Outcome)
			}
		}
	}
	// Exactly one rule per name after repeated application.
	if len(cap.rules) != len(rules) {
		t.Fatalf("rules present = %d, want %d", len(cap.rules), len(rules))
	}
}

func TestApplyContinuesPastFailure(t *testing.T) {
	cap := newFakeCapability()
	cap.addErr = map[string]error{"AIStack Web Service": errors.New("denied")}
	cfg := testConfigurator(cap)

	results, err := cfg.Apply(DefaultRules(8001, 11434))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if results[0].Outcome != OutcomeFailed || results[0].Err == nil {
		t.Fatalf("first rule should fail: %+v", results[0])
	}
	if results[1].Outcome != OutcomeOK {
		t.Fatalf("second rule must still be applied: %+v", results[1])
	}
}

func TestApplyWithoutElevation(t *testing.T) {
	cap := newFakeCapability()
	cap.elevated = false
	cfg := testConfigurator(cap)

	if _, err := cfg.Apply(DefaultRules(8001, 11434)); !errors.Is(err, ErrPrivilegeRequired) {
		t.Fatalf("err = %v, want ErrPrivilegeRequired", err)
	}
}

func TestRemoveMissingRuleIsSkipped(t *testing.T) {
	cap := newFakeCapability()
	cfg := testConfigurator(cap)
	rules := DefaultRules(8001, 11434)

	if _, err := cfg.Apply(rules[:1]); err != nil {
		t.Fatalf("apply: %v", err)
	}
	results, err := cfg.Remove(rules)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if results[0].Outcome != OutcomeOK {
		t.Fatalf("present rule remove = %s, want ok", results[0].Outcome)
	}
	if results[1].Outcome != OutcomeSkipped {
		t.Fatalf("missing rule remove = %s, want skipped", results[1].Outcome)
	}
	if len(cap.rules) != 0 {
		t.Fatalf("rules left behind: %v", cap.rules)
	}
}

func TestDefaultRulesCoverBothPorts(t *testing.T) {
	rules := DefaultRules(8001, 11434)
	if len(rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(rules))
	}
	ports := map[int]bool{rules[0].Port: true, rules[1].Port: true}
	if !ports[8001] || !ports[11434] {
		t.Fatalf("ports = %v", ports)
	}
	if rules[0].Name == rules[1].Name {
		t.Fatalf("rule names must be unique")
	}
}
