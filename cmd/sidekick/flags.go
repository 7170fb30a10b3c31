package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// RunFlags Flag structs to decouple cobra from logic for testing.
type RunFlags struct {
	ConfigPath string
	Listen     string
	BasePath   string
	// ShutdownTimeout bounds the control API drain on exit
	ShutdownTimeout time.Duration
}

type ProbeFlags struct {
	Port int
}

type InstallFlags struct {
	ConfigPath string
	// Remote supervisor connection; empty runs locally
	APIUrl     string
	APITimeout time.Duration
}

type RemoteFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

type LogsFlags struct {
	RemoteFlags
	Tail int
	JSON bool
}

type EnsureFlags struct {
	RemoteFlags
	Wait time.Duration
}
