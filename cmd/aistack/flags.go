package main

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	Verbose    bool
}

// InstallFlags holds flags for the install command.
type InstallFlags struct {
	SkipRuntime  bool
	SkipFirewall bool
	SkipModels   bool
	Models       []string
	Production   bool
	Force        bool
}

// StartFlags holds flags for the start command.
type StartFlags struct {
	Headless    bool
	SkipRuntime bool
	Port        int
	BindHost    string
}

// StopFlags holds flags for the stop command.
type StopFlags struct {
	Force       bool
	KeepRuntime bool
}

// TestFlags holds flags for the test command.
type TestFlags struct {
	Host       string
	Port       int
	SkipModels bool
	SkipWeb    bool
	Verbose    bool
}

// FirewallFlags holds flags for the firewall command.
type FirewallFlags struct {
	Remove      bool
	Port        int
	RuntimePort int
}
