// Package config provides configuration management for kvs-tester.
package config

import (
	"os"
	"os/user"
	"strings"
	"time"
)

// Config holds all configuration options for a test batch.
type Config struct {
	// Source trees
	LocalPath string   `json:"local_path"`
	ClientSrc string   `json:"client_src"` // "" = LocalPath
	RemoteSrc string   `json:"remote_src"`
	Exclude   []string `json:"exclude"`

	// Tester files, relative to TesterPath
	TesterPath   string `json:"tester_path"`
	ServerConfig string `json:"server_config"`
	ClientConfig string `json:"client_config"`
	TestsList    string `json:"tests_list"`
	OpsList      string `json:"ops_list"`
	TestsDir     string `json:"tests_dir"`
	OpsGenerator string `json:"ops_generator"`
	GenerateOps  bool   `json:"generate_ops"`

	// Hosts
	Remote      bool   `json:"remote"`
	User        string `json:"user"`
	MserverHost string `json:"mserver_host"`
	ClientPort  int    `json:"client_port"`
	ServerPort  int    `json:"server_port"`

	// Engine timing
	Warmup        time.Duration `json:"warmup"`
	StopTimeout   time.Duration `json:"stop_timeout"`
	InjectorDelay time.Duration `json:"injector_delay"`
	Seed          int64         `json:"seed"` // 0 = random

	// Logs and cleanup
	LogDir         string `json:"log_dir"`
	StderrLogsOnly bool   `json:"stderr_logs_only"`
	CleanupSrc     bool   `json:"cleanup_src"`

	// Observability
	MetricsAddr     string `json:"metrics_addr"` // "" = disabled
	MetricsTextfile string `json:"metrics_textfile"`
	TUIEnabled      bool   `json:"tui_enabled"`
	Verbose         bool   `json:"verbose"`
	LogFormat       string `json:"log_format"` // json, text
	LogLevel        string `json:"log_level"`

	// Diagnostic modes
	PrintCmds     bool `json:"print_cmds"`
	SkipPreflight bool `json:"skip_preflight"`
	PrintVersion  bool `json:"-"`
}

// DefaultConfig returns a Config with the defaults of a local deployment.
func DefaultConfig() *Config {
	return &Config{
		LocalPath: "./",
		RemoteSrc: "csc469_a4/",
		Exclude:   []string{"kvs-tester"},

		TesterPath:   "./",
		ServerConfig: "srvcfg_local.txt",
		ClientConfig: "clicfg_local.txt",
		TestsList:    "all_tests.txt",
		OpsList:      "all_ops.txt",
		TestsDir:     "tests/",
		OpsGenerator: "./opsgen2.py",

		User:        CurrentUser(),
		MserverHost: "localhost",
		ClientPort:  27725,
		ServerPort:  31651,

		Warmup:        5 * time.Second,
		StopTimeout:   30 * time.Second,
		InjectorDelay: time.Second,

		LogDir:    ".",
		LogFormat: "json",
		LogLevel:  "info",
	}
}

// CurrentUser returns the login of the invoking user.
func CurrentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

// Local reports whether every process runs on this machine.
func (c *Config) Local() bool {
	return !c.Remote
}

// SourcePath is the service source tree, with the trailing slash rsync
// needs to copy a directory's contents.
func (c *Config) SourcePath() string {
	return WithSlash(c.LocalPath)
}

// ClientSourcePath is the tree deployed to client hosts in remote mode.
func (c *Config) ClientSourcePath() string {
	if c.ClientSrc == "" {
		return c.SourcePath()
	}
	return WithSlash(c.ClientSrc)
}

// ServerConfigPath is the service-node configuration file.
func (c *Config) ServerConfigPath() string {
	return c.testerFile(c.ServerConfig)
}

// ClientConfigPath is the client-host configuration file.
func (c *Config) ClientConfigPath() string {
	return c.testerFile(c.ClientConfig)
}

// TestsListPath is the ordered list of test-case files.
func (c *Config) TestsListPath() string {
	return c.testerFile(c.TestsList)
}

// OpsListPath lists one operation-generator invocation per line.
func (c *Config) OpsListPath() string {
	return c.testerFile(c.OpsList)
}

// TestsPath is the directory of test cases and operation files.
func (c *Config) TestsPath() string {
	return WithSlash(c.testerFile(c.TestsDir))
}

// RemoteSrcDir is the deployed tree on every host, with a trailing slash.
func (c *Config) RemoteSrcDir() string {
	return WithSlash(c.RemoteSrc)
}

func (c *Config) testerFile(name string) string {
	if strings.HasPrefix(name, "/") {
		return name
	}
	return WithSlash(c.TesterPath) + name
}

// WithSlash appends a trailing slash unless p already ends in one.
func WithSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}
