package logger

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters for service output logs.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// FileConfig describes the stdout/stderr destinations for a managed service.
// If StdoutPath/StderrPath are empty and Dir is set, files will be
// Dir/<name>-<stamp>.stdout.log and Dir/<name>-<stamp>.stderr.log where
// <stamp> is the start timestamp, so each server start gets its own file.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	StdoutPath string `toml:"stdout" mapstructure:"stdout"`
	StderrPath string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// Config wraps the file sink configuration for a service.
type Config struct {
	File FileConfig `toml:"file" mapstructure:"file"`
}

// Writers returns io.WriteClosers for stdout and stderr for the given service
// name. startedAt names the files when Dir-based paths are used; pass the
// launch time so each start invocation writes to a fresh pair.
func (c Config) Writers(name string, startedAt time.Time) (io.WriteCloser, io.WriteCloser, error) {
	f := c.File
	stamp := startedAt.Format("20060102-150405")
	stdout := f.StdoutPath
	stderr := f.StderrPath
	if stdout == "" && f.Dir != "" {
		stdout = filepath.Join(f.Dir, fmt.Sprintf("%s-%s.stdout.log", name, stamp))
	}
	if stderr == "" && f.Dir != "" {
		stderr = filepath.Join(f.Dir, fmt.Sprintf("%s-%s.stderr.log", name, stamp))
	}
	var outW io.WriteCloser
	var errW io.WriteCloser
	if stdout != "" {
		outW = &lj.Logger{
			Filename:   stdout,
			MaxSize:    valOr(f.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(f.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(f.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   f.Compress,
		}
	}
	if stderr != "" {
		errW = &lj.Logger{
			Filename:   stderr,
			MaxSize:    valOr(f.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(f.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(f.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   f.Compress,
		}
	}
	return outW, errW, nil
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
