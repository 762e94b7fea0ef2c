package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/aistack/internal/detect"
	"github.com/loykin/aistack/internal/firewall"
	"github.com/loykin/aistack/internal/installer"
	"github.com/loykin/aistack/internal/logger"
	"github.com/loykin/aistack/internal/process"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool     `toml:"use_os_env" mapstructure:"use_os_env"`

	Log      *LogConfig      `toml:"log" mapstructure:"log"`
	Runtime  RuntimeConfig   `toml:"runtime" mapstructure:"runtime"`
	Models   []string        `toml:"models" mapstructure:"models"`
	Web      WebConfig       `toml:"web" mapstructure:"web"`
	Services []ServiceConfig `toml:"services" mapstructure:"services"`
	Firewall FirewallConfig  `toml:"firewall" mapstructure:"firewall"`
	History  HistoryConfig   `toml:"history" mapstructure:"history"`
	Server   ServerConfig    `toml:"server" mapstructure:"server"`
}

type LogConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// RuntimeConfig describes the inference runtime.
type RuntimeConfig struct {
	Binary       string `toml:"binary" mapstructure:"binary"`
	BaseURL      string `toml:"base_url" mapstructure:"base_url"`
	InstallerURL string `toml:"installer_url" mapstructure:"installer_url"`
	Port         int    `toml:"port" mapstructure:"port"`
	Command      string `toml:"command" mapstructure:"command"`
}

// WebConfig describes the managed HTTP service.
type WebConfig struct {
	Command  string `toml:"command" mapstructure:"command"`
	WorkDir  string `toml:"workdir" mapstructure:"workdir"`
	Port     int    `toml:"port" mapstructure:"port"`
	BindHost string `toml:"bind_host" mapstructure:"bind_host"`
	PIDFile  string `toml:"pidfile" mapstructure:"pidfile"`
}

// ServiceConfig is an additional managed service entry.
type ServiceConfig struct {
	Name        string          `toml:"name" mapstructure:"name"`
	Command     string          `toml:"command" mapstructure:"command"`
	WorkDir     string          `toml:"workdir" mapstructure:"workdir"`
	Env         []string        `toml:"env" mapstructure:"env"`
	PIDFile     string          `toml:"pidfile" mapstructure:"pidfile"`
	StopTimeout time.Duration   `toml:"stop_timeout" mapstructure:"stop_timeout"`
	ReadyURL    string          `toml:"ready_url" mapstructure:"ready_url"`
	ReadyPort   int             `toml:"ready_port" mapstructure:"ready_port"`
	Detached    bool            `toml:"detached" mapstructure:"detached"`
	Detectors   []DetectorEntry `toml:"detectors" mapstructure:"detectors"`
	Log         *LogConfig      `toml:"log" mapstructure:"log"`
}

type DetectorEntry struct {
	Type string   `toml:"type" mapstructure:"type"`
	Path string   `toml:"path" mapstructure:"path"`
	PID  int      `toml:"pid" mapstructure:"pid"`
	Port int      `toml:"port" mapstructure:"port"`
	Args []string `toml:"args" mapstructure:"args"`
}

type FirewallConfig struct {
	Rules []firewall.Rule `toml:"rules" mapstructure:"rules"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// ServerConfig configures the optional status API.
type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
	Metrics  bool   `toml:"metrics" mapstructure:"metrics"`
}

// Defaults applied when the corresponding keys are absent.
const (
	DefaultWebPort      = 8001
	DefaultBindHost     = "0.0.0.0"
	DefaultServerListen = "127.0.0.1:9090"
	DefaultLogDir       = "logs"
)

// Default returns a configuration with every default applied and no file
// read. Useful when no config path is given.
func Default() *FileConfig {
	fc := &FileConfig{}
	fc.applyDefaults()
	return fc
}

// Load reads and validates a TOML config file, filling defaults.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	fc.applyDefaults()
	if err := fc.validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

func (fc *FileConfig) applyDefaults() {
	if fc.Runtime.Binary == "" {
		fc.Runtime.Binary = installer.DefaultRuntimeBinary
	}
	if fc.Runtime.BaseURL == "" {
		fc.Runtime.BaseURL = installer.DefaultRuntimeBaseURL
	}
	if fc.Runtime.Port == 0 {
		fc.Runtime.Port = installer.DefaultRuntimePort
	}
	if fc.Runtime.Command == "" {
		fc.Runtime.Command = fc.Runtime.Binary + " serve"
	}
	if len(fc.Models) == 0 {
		for _, m := range installer.DefaultModels {
			fc.Models = append(fc.Models, m.Name)
		}
	}
	if fc.Web.Port == 0 {
		fc.Web.Port = DefaultWebPort
	}
	if fc.Web.BindHost == "" {
		fc.Web.BindHost = DefaultBindHost
	}
	if fc.Log == nil {
		fc.Log = &LogConfig{Dir: DefaultLogDir}
	}
	if fc.Log.Dir == "" {
		fc.Log.Dir = DefaultLogDir
	}
	if len(fc.Firewall.Rules) == 0 {
		fc.Firewall.Rules = firewall.DefaultRules(fc.Web.Port, fc.Runtime.Port)
	}
	if fc.Server.Listen == "" {
		fc.Server.Listen = DefaultServerListen
	}
}

func (fc *FileConfig) validate() error {
	if fc.Web.Port == fc.Runtime.Port {
		return fmt.Errorf("web port and runtime port are both %d", fc.Web.Port)
	}
	seen := map[string]bool{}
	for _, sc := range fc.Services {
		if sc.Name == "" {
			return fmt.Errorf("service entry requires a name")
		}
		if seen[sc.Name] {
			return fmt.Errorf("duplicate service name %q", sc.Name)
		}
		seen[sc.Name] = true
		if sc.Command == "" {
			return fmt.Errorf("service %s requires a command", sc.Name)
		}
	}
	return nil
}

// ModelRefs returns the configured model set.
func (fc *FileConfig) ModelRefs() []installer.ModelRef {
	refs := make([]installer.ModelRef, 0, len(fc.Models))
	for _, m := range fc.Models {
		refs = append(refs, installer.ModelRef{Name: m})
	}
	return refs
}

func (lc *LogConfig) toLogger() logger.Config {
	if lc == nil {
		return logger.Config{}
	}
	return logger.Config{File: logger.FileConfig{
		Dir:        lc.Dir,
		StdoutPath: lc.Stdout,
		StderrPath: lc.Stderr,
		MaxSizeMB:  lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		MaxAgeDays: lc.MaxAgeDays,
		Compress:   lc.Compress,
	}}
}

func mergeLog(base *LogConfig, over *LogConfig) logger.Config {
	cfg := base.toLogger()
	if over == nil {
		return cfg
	}
	o := over.toLogger().File
	if o.Dir != "" {
		cfg.File.Dir = o.Dir
	}
	if o.StdoutPath != "" {
		cfg.File.StdoutPath = o.StdoutPath
	}
	if o.StderrPath != "" {
		cfg.File.StderrPath = o.StderrPath
	}
	if o.MaxSizeMB != 0 {
		cfg.File.MaxSizeMB = o.MaxSizeMB
	}
	if o.MaxBackups != 0 {
		cfg.File.MaxBackups = o.MaxBackups
	}
	if o.MaxAgeDays != 0 {
		cfg.File.MaxAgeDays = o.MaxAgeDays
	}
	if o.Compress {
		cfg.File.Compress = true
	}
	return cfg
}

func resolveDetectors(name string, entries []DetectorEntry) ([]detect.Detector, error) {
	dets := make([]detect.Detector, 0, len(entries))
	for _, d := range entries {
		switch d.Type {
		case "pidfile":
			if d.Path == "" {
				return nil, fmt.Errorf("detector pidfile requires path for service %s", name)
			}
			dets = append(dets, detect.PIDFileDetector{Path: d.Path})
		case "pid":
			if d.PID <= 0 {
				return nil, fmt.Errorf("detector pid requires positive pid for service %s", name)
			}
			dets = append(dets, detect.PIDDetector{PID: d.PID})
		case "cmdline":
			if len(d.Args) == 0 {
				return nil, fmt.Errorf("detector cmdline requires args for service %s", name)
			}
			dets = append(dets, detect.CmdlineDetector{Args: d.Args})
		case "port":
			if d.Port <= 0 {
				return nil, fmt.Errorf("detector port requires positive port for service %s", name)
			}
			dets = append(dets, detect.PortDetector{Port: d.Port})
		default:
			return nil, fmt.Errorf("unknown detector type %q for service %s", d.Type, name)
		}
	}
	return dets, nil
}

func parseEnvList(kvs []string) map[string]string {
	if len(kvs) == 0 {
		return nil
	}
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

// RuntimeSpec builds the process spec for the inference runtime. Adoption
// matches on the runtime port and the serve command line, so an instance
// started outside the orchestrator is recognized.
func (fc *FileConfig) RuntimeSpec() process.Spec {
	return process.Spec{
		Name:      "runtime",
		Command:   fc.Runtime.Command,
		ReadyURL:  fc.Runtime.BaseURL + "/api/tags",
		ReadyPort: fc.Runtime.Port,
		Detached:  true,
		Detectors: []detect.Detector{
			detect.CmdlineDetector{Args: strings.Fields(fc.Runtime.Command)},
			detect.PortDetector{Port: fc.Runtime.Port},
		},
		Log: fc.Log.toLogger(),
	}
}

// WebSpec builds the process spec for the managed HTTP service. bindHost
// and port may override the configured values (CLI flags win).
func (fc *FileConfig) WebSpec(bindHost string, port int, detached bool) process.Spec {
	if bindHost == "" {
		bindHost = fc.Web.BindHost
	}
	if port == 0 {
		port = fc.Web.Port
	}
	pidFile := fc.Web.PIDFile
	if pidFile == "" {
		pidFile = filepath.Join(fc.Log.Dir, "web.pid")
	}
	return process.Spec{
		Name:    "web",
		Command: fc.Web.Command,
		WorkDir: fc.Web.WorkDir,
		Env: map[string]string{
			"HOST": bindHost,
			"PORT": fmt.Sprintf("%d", port),
		},
		PIDFile:   pidFile,
		ReadyURL:  fmt.Sprintf("http://localhost:%d/health", port),
		ReadyPort: port,
		Detached:  detached,
		Detectors: []detect.Detector{
			detect.PortDetector{Port: port},
		},
		Log: fc.Log.toLogger(),
	}
}

// ServiceSpecs builds process specs for the additional managed services.
func (fc *FileConfig) ServiceSpecs() ([]process.Spec, error) {
	specs := make([]process.Spec, 0, len(fc.Services))
	for _, sc := range fc.Services {
		dets, err := resolveDetectors(sc.Name, sc.Detectors)
		if err != nil {
			return nil, err
		}
		specs = append(specs, process.Spec{
			Name:        sc.Name,
			Command:     sc.Command,
			WorkDir:     sc.WorkDir,
			Env:         parseEnvList(sc.Env),
			PIDFile:     sc.PIDFile,
			StopTimeout: sc.StopTimeout,
			ReadyURL:    sc.ReadyURL,
			ReadyPort:   sc.ReadyPort,
			Detached:    sc.Detached,
			Detectors:   dets,
			Log:         mergeLog(fc.Log, sc.Log),
		})
	}
	return specs, nil
}

// GlobalEnv merges env sources from the config. Precedence: OS env (when
// enabled) provides the base, env_files contents apply next, and the
// top-level env list overrides last.
func (fc *FileConfig) GlobalEnv() (map[string]string, error) {
	m := make(map[string]string)
	if fc.UseOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, p := range fc.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range fc.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
