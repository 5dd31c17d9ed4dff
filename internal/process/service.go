package process

import (
	"fmt"
	"strconv"
	"strings"
)

// Process names used by host-level cleanup kills.
const (
	CoordinatorName = "mserver"
	ServerName      = "server"
	ClientName      = "client"
)

// ServiceConfig holds everything needed to build the command lines of the
// key-value service under test.
type ServiceConfig struct {
	// CoordinatorBinary and ClientBinary are relative to the deployed tree.
	CoordinatorBinary string
	ClientBinary      string

	// CoordinatorHost is where the coordinator runs and where clients connect.
	CoordinatorHost string

	// ClientPort is the client-facing coordinator port.
	ClientPort int

	// ServerPort is the node-facing coordinator port.
	ServerPort int

	// ServerConfig is the base name of the service-node configuration file
	// copied next to the coordinator.
	ServerConfig string
}

// DefaultServiceConfig returns the ports and binaries of a local deployment.
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		CoordinatorBinary: "./" + CoordinatorName,
		ClientBinary:      "./" + ClientName,
		CoordinatorHost:   "localhost",
		ClientPort:        27725,
		ServerPort:        31651,
		ServerConfig:      "srvcfg_local.txt",
	}
}

// CoordinatorArgs returns the coordinator invocation for a run, including
// shell redirections. Without verbose, stdout is discarded and no log file
// is requested; stderr is always kept.
func (c *ServiceConfig) CoordinatorArgs(run int, verbose bool) []string {
	args := []string{
		c.CoordinatorBinary,
		"-c", strconv.Itoa(c.ClientPort),
		"-s", strconv.Itoa(c.ServerPort),
		"-C", c.ServerConfig,
	}
	if verbose {
		args = append(args, "-l", fmt.Sprintf("mserver_%d.log", run))
	}
	return append(args,
		"1>", stdoutTarget(fmt.Sprintf("mserver_%d_stdout.log", run), verbose),
		"2>", fmt.Sprintf("mserver_%d_stderr.log", run),
	)
}

// ClientArgs returns the invocation of one client iteration for a slot.
func (c *ServiceConfig) ClientArgs(slot int, opFile string, run int, verbose bool) []string {
	args := []string{
		c.ClientBinary,
		"-h", c.CoordinatorHost,
		"-p", strconv.Itoa(c.ClientPort),
		"-f", opFile,
	}
	if verbose {
		args = append(args, "-l", fmt.Sprintf("client_%d_%d.log", slot, run))
	}
	return append(args,
		"1>", stdoutTarget(fmt.Sprintf("client_%d_%d_stdout.log", slot, run), verbose),
		"2>", fmt.Sprintf("client_%d_%d_stderr.log", slot, run),
	)
}

func stdoutTarget(name string, verbose bool) string {
	if verbose {
		return name
	}
	return "/dev/null"
}

// ServerKillPattern matches exactly one service node's command line.
// Nodes are spawned with "-S <index>", so several nodes can share a host.
// The bracketed first letter keeps the pattern from matching the shell
// that carries it.
func ServerKillPattern(index int) string {
	return fmt.Sprintf("[%s]%s .* -S %d .*", ServerName[:1], ServerName[1:], index)
}

// ServerLogName is the log a service node writes during a run.
func ServerLogName(index int) string {
	return fmt.Sprintf("server_%d.log", index)
}

// ServerRunLogName is the archived name of a node's log for a run.
func ServerRunLogName(index, run int) string {
	return fmt.Sprintf("server_%d_%d.log", index, run)
}

// CommandString joins argv for display.
func CommandString(argv []string) string {
	return strings.Join(argv, " ")
}
