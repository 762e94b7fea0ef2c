package env

import (
	"strings"
	"testing"
)

func find(t *testing.T, kvs []string, key string) (string, bool) {
	t.Helper()
	prefix := key + "="
	for _, kv := range kvs {
		if strings.HasPrefix(kv, prefix) {
			return kv[len(prefix):], true
		}
	}
	return "", false
}

func TestMergePrecedence(t *testing.T) {
	e := New()
	e.base = map[string]string{"A": "base", "B": "base"}
	e.Set("B", "global")
	out := e.Merge(map[string]string{"B": "service", "C": "service"})

	if v, _ := find(t, out, "A"); v != "base" {
		t.Fatalf("A = %q, want base", v)
	}
	if v, _ := find(t, out, "B"); v != "service" {
		t.Fatalf("B = %q, want service override", v)
	}
	if v, _ := find(t, out, "C"); v != "service" {
		t.Fatalf("C = %q, want service", v)
	}
}

func TestMergeExpandsReferences(t *testing.T) {
	e := New()
	e.base = map[string]string{"HOME": "/home/u"}
	out := e.Merge(map[string]string{"VENV": "${HOME}/.venv"})
	if v, _ := find(t, out, "VENV"); v != "/home/u/.venv" {
		t.Fatalf("VENV = %q", v)
	}
}

func TestMergeDeterministicOrder(t *testing.T) {
	e := New()
	e.base = map[string]string{"Z": "1", "A": "2", "M": "3"}
	out := e.Merge(nil)
	for i := 1; i < len(out); i++ {
		if out[i-1] > out[i] {
			t.Fatalf("output not sorted: %v", out)
		}
	}
}

func TestUnset(t *testing.T) {
	e := New()
	e.base = map[string]string{}
	e.Set("K", "v")
	e.Unset("K")
	if _, ok := find(t, e.Merge(nil), "K"); ok {
		t.Fatalf("K should be unset")
	}
}
