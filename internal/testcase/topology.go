// Package testcase loads host topologies and test-case descriptions.
//
// File formats:
//
//	server config   first line = count, then count lines "host ..." or "user@host ..."
//	client config   "<host> <count>" per line, '#' comments
//	test case       name, "<fail_period> <verbosity>", then one line per client:
//	                "<ops_file> <repeat> <timeout>" (the triple may repeat)
//	tests list      one test-case file name per line, '#' comments
//	ops list        generator arguments per line, '#' comments
package testcase

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Topology describes where every process of the service under test runs.
// Service node order is significant: a node's index is its identity and
// the value the failure injector encodes in its kill pattern.
type Topology struct {
	CoordinatorHost string
	ServiceNodes    []string
	Clients         []string

	// Users maps a host to the login named in a "user@host" entry.
	Users map[string]string
}

// ServiceHosts returns the distinct service-node hosts in first-seen order.
func (t Topology) ServiceHosts() []string {
	return Distinct(t.ServiceNodes)
}

// ClientHosts returns the distinct client hosts in first-seen order.
func (t Topology) ClientHosts() []string {
	return Distinct(t.Clients)
}

// AllHosts returns the coordinator host followed by every other distinct host.
func (t Topology) AllHosts() []string {
	all := make([]string, 0, 1+len(t.ServiceNodes)+len(t.Clients))
	all = append(all, t.CoordinatorHost)
	all = append(all, t.ServiceNodes...)
	all = append(all, t.Clients...)
	return Distinct(all)
}

// Distinct returns hosts without duplicates, keeping first occurrences.
func Distinct(hosts []string) []string {
	seen := make(map[string]struct{}, len(hosts))
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

// RoundRobin interleaves queues by taking one element from each non-empty
// queue in turn until all are drained.
//
//	RoundRobin([A B C], [D], [E F]) = [A D E B F C]
func RoundRobin(queues ...[]string) []string {
	total := 0
	for _, q := range queues {
		total += len(q)
	}

	out := make([]string, 0, total)
	for pos := 0; len(out) < total; pos++ {
		for _, q := range queues {
			if pos < len(q) {
				out = append(out, q[pos])
			}
		}
	}
	return out
}

// ParseServerConfig reads service-node hosts. Users found in "user@host"
// entries are recorded in users (which may be nil).
func ParseServerConfig(r io.Reader, users map[string]string) ([]string, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("server config: missing node count")
	}

	count, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil || count < 0 {
		return nil, fmt.Errorf("server config: invalid node count %q", lines[0])
	}
	if len(lines)-1 < count {
		return nil, fmt.Errorf("server config: expected %d nodes, found %d lines", count, len(lines)-1)
	}

	nodes := make([]string, 0, count)
	for i, line := range lines[1 : count+1] {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			return nil, fmt.Errorf("server config: node %d: empty line", i)
		}
		user, host := splitUserHost(fields[0])
		if user != "" && users != nil {
			users[host] = user
		}
		nodes = append(nodes, host)
	}
	return nodes, nil
}

// ParseClientConfig reads "<host> <count>" lines and returns one entry per
// client slot, interleaved across hosts.
func ParseClientConfig(r io.Reader, users map[string]string) ([]string, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, err
	}

	var queues [][]string
	for _, line := range significant(lines) {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("client config: want \"<host> <count>\", got %q", line)
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("client config: invalid count in %q", line)
		}
		user, host := splitUserHost(fields[0])
		if user != "" && users != nil {
			users[host] = user
		}
		q := make([]string, n)
		for i := range q {
			q[i] = host
		}
		queues = append(queues, q)
	}
	return RoundRobin(queues...), nil
}

// LoadTopology reads the server and client configuration files.
func LoadTopology(coordinatorHost, serverConfig, clientConfig string) (Topology, error) {
	topo := Topology{
		CoordinatorHost: coordinatorHost,
		Users:           make(map[string]string),
	}

	f, err := os.Open(serverConfig)
	if err != nil {
		return Topology{}, fmt.Errorf("open server config: %w", err)
	}
	topo.ServiceNodes, err = ParseServerConfig(f, topo.Users)
	f.Close()
	if err != nil {
		return Topology{}, fmt.Errorf("%s: %w", serverConfig, err)
	}

	f, err = os.Open(clientConfig)
	if err != nil {
		return Topology{}, fmt.Errorf("open client config: %w", err)
	}
	topo.Clients, err = ParseClientConfig(f, topo.Users)
	f.Close()
	if err != nil {
		return Topology{}, fmt.Errorf("%s: %w", clientConfig, err)
	}

	return topo, nil
}

func splitUserHost(token string) (user, host string) {
	if i := strings.LastIndex(token, "@"); i >= 0 {
		return token[:i], token[i+1:]
	}
	return "", token
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// significant drops blank lines and lines starting with '#'.
func significant(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if strings.TrimSpace(l) == "" || strings.HasPrefix(l, "#") {
			continue
		}
		out = append(out, l)
	}
	return out
}
