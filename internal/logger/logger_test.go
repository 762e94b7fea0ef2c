package logger

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWritersFromDirUseTimestampedNames(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{File: FileConfig{Dir: dir}}
	started := time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)
	outW, errW, err := cfg.Writers("web", started)
	if err != nil {
		t.Fatalf("Writers: %v", err)
	}
	if outW == nil || errW == nil {
		t.Fatalf("expected both writers, got %v %v", outW, errW)
	}
	if _, err := outW.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write stdout: %v", err)
	}
	_ = outW.Close()
	_ = errW.Close()

	matches, err := filepath.Glob(filepath.Join(dir, "web-20250314-150926.stdout.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected timestamped stdout file, got %v (err=%v)", matches, err)
	}
}

func TestWritersExplicitPathsOverrideDir(t *testing.T) {
	dir := t.TempDir()
	sp := filepath.Join(dir, "custom.out")
	ep := filepath.Join(dir, "custom.err")
	cfg := Config{File: FileConfig{Dir: dir, StdoutPath: sp, StderrPath: ep}}
	outW, errW, err := cfg.Writers("api", time.Now())
	if err != nil {
		t.Fatalf("Writers: %v", err)
	}
	if _, err := outW.Write([]byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = outW.Close()
	_ = errW.Close()
	if !strings.HasSuffix(sp, "custom.out") {
		t.Fatalf("unexpected path %q", sp)
	}
}

func TestWritersEmptyConfigYieldsNil(t *testing.T) {
	cfg := Config{}
	outW, errW, err := cfg.Writers("none", time.Now())
	if err != nil {
		t.Fatalf("Writers: %v", err)
	}
	if outW != nil || errW != nil {
		t.Fatalf("expected nil writers for empty config")
	}
}
