package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kong"
)

const description = `kvs-tester - distributed test runner for a coordinator/server/client key-value service

Builds the service on every host, runs each test case listed in the tests
file against a fresh coordinator, optionally kills service nodes at a fixed
period, and prints one verdict line per test.

Examples:
  # Run every test locally from the source tree in ../a4
  kvs-tester -l ../a4 -t ./

  # Regenerate operation files first, echoing every command
  kvs-tester -g -p

  # Spread nodes and clients over the hosts in the config files
  kvs-tester --remote --user alice --mserver-host node0`

// cli is the kong grammar. Defaults come from DefaultConfig via kong vars,
// so there is a single source of truth.
type cli struct {
	LocalPath   string `short:"l" name:"localpath" default:"${local_path}" help:"Local path to the source code under test."`
	TesterPath  string `short:"t" name:"tester-path" default:"${tester_path}" help:"Path to tester configuration files and the tests subdirectory."`
	GenerateOps bool   `short:"g" name:"generate-ops" help:"Generate operation files before testing."`
	PrintCmds   bool   `short:"p" name:"print-cmds" aliases:"print_cmds" help:"Print every command issued to a host."`

	Remote      bool   `help:"Run on the hosts named in the config files instead of locally." group:"Hosts"`
	User        string `default:"${user}" help:"Login on remote hosts and owner filter for kills." group:"Hosts"`
	MserverHost string `name:"mserver-host" default:"${mserver_host}" help:"Host running the coordinator." group:"Hosts"`
	ClientPort  int    `name:"client-port" default:"${client_port}" help:"Coordinator client-facing port." group:"Hosts"`
	ServerPort  int    `name:"server-port" default:"${server_port}" help:"Coordinator node-facing port." group:"Hosts"`

	RemoteSrc    string   `name:"remote-src" default:"${remote_src}" help:"Deployed source directory on every host." group:"Files"`
	ClientSrc    string   `name:"client-src" help:"Separate source tree for client hosts (remote mode)." group:"Files"`
	Exclude      []string `default:"${exclude}" help:"Patterns never copied into the deployed tree." group:"Files"`
	ServerConfig string   `name:"server-config" default:"${server_config}" help:"Service-node configuration file." group:"Files"`
	ClientConfig string   `name:"client-config" default:"${client_config}" help:"Client-host configuration file." group:"Files"`
	Tests        string   `default:"${tests_list}" help:"List of test-case files." group:"Files"`
	Ops          string   `default:"${ops_list}" help:"List of operation-generator invocations." group:"Files"`
	OpsGenerator string   `name:"ops-generator" default:"${ops_generator}" help:"Operation-file generator." group:"Files"`

	Warmup        time.Duration `default:"${warmup}" help:"Coordinator start-up grace period." group:"Timing"`
	StopTimeout   time.Duration `name:"stop-timeout" default:"${stop_timeout}" help:"Bound on coordinator shutdown." group:"Timing"`
	InjectorDelay time.Duration `name:"injector-delay" default:"${injector_delay}" help:"Delay before the first node kill." group:"Timing"`
	Seed          int64         `help:"Seed for node-kill target selection (0 = random)." group:"Timing"`

	LogDir         string `name:"log-dir" default:"${log_dir}" help:"Where collected logs are copied." group:"Logs"`
	StderrLogsOnly bool   `name:"stderr-logs-only" help:"Collect only *_stderr.log files." group:"Logs"`
	CleanupSrc     bool   `name:"cleanup-src" help:"Remove the deployed source tree from every host afterwards." group:"Logs"`

	Metrics         string `placeholder:"ADDR" help:"Serve Prometheus metrics on ADDR (e.g. 0.0.0.0:17091)." group:"Observability"`
	MetricsTextfile string `name:"metrics-textfile" placeholder:"PATH" help:"Write final metrics in node_exporter textfile format." group:"Observability"`
	TUI             bool   `name:"tui" help:"Show a live dashboard instead of log output." group:"Observability"`
	LogFormat       string `name:"log-format" enum:"json,text" default:"${log_format}" help:"Log format (json, text)." group:"Observability"`
	LogLevel        string `name:"log-level" enum:"debug,info,warn,error" default:"${log_level}" help:"Log level." group:"Observability"`
	Verbose         bool   `short:"v" help:"Verbose logging (debug level with source)." group:"Observability"`

	SkipPreflight bool `name:"skip-preflight" help:"Skip system checks." group:"Diagnostics"`
	Version       bool `help:"Print version and exit." group:"Diagnostics"`
}

// ParseFlags parses command-line arguments (without the program name) and
// returns a Config. Options are passed to kong, e.g. kong.Exit in tests.
func ParseFlags(args []string, options ...kong.Option) (*Config, error) {
	def := DefaultConfig()

	var c cli
	opts := append([]kong.Option{
		kong.Name("kvs-tester"),
		kong.Description(description),
		kong.UsageOnError(),
		kong.Vars{
			"local_path":     def.LocalPath,
			"tester_path":    def.TesterPath,
			"user":           def.User,
			"mserver_host":   def.MserverHost,
			"client_port":    itoa(def.ClientPort),
			"server_port":    itoa(def.ServerPort),
			"remote_src":     def.RemoteSrc,
			"exclude":        join(def.Exclude),
			"server_config":  def.ServerConfig,
			"client_config":  def.ClientConfig,
			"tests_list":     def.TestsList,
			"ops_list":       def.OpsList,
			"ops_generator":  def.OpsGenerator,
			"warmup":         def.Warmup.String(),
			"stop_timeout":   def.StopTimeout.String(),
			"injector_delay": def.InjectorDelay.String(),
			"log_dir":        def.LogDir,
			"log_format":     def.LogFormat,
			"log_level":      def.LogLevel,
		},
	}, options...)

	parser, err := kong.New(&c, opts...)
	if err != nil {
		return nil, err
	}
	if _, err := parser.Parse(args); err != nil {
		return nil, err
	}

	cfg := def
	cfg.LocalPath = c.LocalPath
	cfg.TesterPath = c.TesterPath
	cfg.GenerateOps = c.GenerateOps
	cfg.PrintCmds = c.PrintCmds

	cfg.Remote = c.Remote
	cfg.User = c.User
	cfg.MserverHost = c.MserverHost
	cfg.ClientPort = c.ClientPort
	cfg.ServerPort = c.ServerPort

	cfg.RemoteSrc = c.RemoteSrc
	cfg.ClientSrc = c.ClientSrc
	cfg.Exclude = c.Exclude
	cfg.ServerConfig = c.ServerConfig
	cfg.ClientConfig = c.ClientConfig
	cfg.TestsList = c.Tests
	cfg.OpsList = c.Ops
	cfg.OpsGenerator = c.OpsGenerator

	cfg.Warmup = c.Warmup
	cfg.StopTimeout = c.StopTimeout
	cfg.InjectorDelay = c.InjectorDelay
	cfg.Seed = c.Seed

	cfg.LogDir = c.LogDir
	cfg.StderrLogsOnly = c.StderrLogsOnly
	cfg.CleanupSrc = c.CleanupSrc

	cfg.MetricsAddr = c.Metrics
	cfg.MetricsTextfile = c.MetricsTextfile
	cfg.TUIEnabled = c.TUI
	cfg.LogFormat = c.LogFormat
	cfg.LogLevel = c.LogLevel
	cfg.Verbose = c.Verbose

	cfg.SkipPreflight = c.SkipPreflight
	cfg.PrintVersion = c.Version

	return cfg, nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func join(items []string) string {
	return strings.Join(items, ",")
}
