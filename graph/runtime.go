package graph

import (
	"strconv"
	"strings"
)

// Runtime keys exactly mirror the DTC_* environment contract of spec.md
// section 6 (see the env package), but carry the same information in-band
// as part of a wire-transmitted Topology instead of via process
// environment variables — this is how the master hands a per-container
// projection its frontier/bridge wiring at dispatch time.
const (
	RuntimeExecutionMode        = "execution_mode"
	RuntimeThisHost             = "this_host"
	RuntimeMasterHost           = "master_host"
	RuntimeSubmitFile           = "submit_file"
	RuntimeSubmitArgv           = "submit_argv"
	RuntimeProgram              = "program"
	RuntimeStdoutFD             = "stdout_fd"
	RuntimeStderrFD             = "stderr_fd"
	RuntimeTopologyFD           = "topology_fd"
	RuntimeVertexHosts          = "vertex_hosts"
	RuntimeFrontiers            = "frontiers"
	RuntimeBridges              = "bridges"
	RuntimeStdoutListenerPort   = "stdout_listener_port"
	RuntimeStderrListenerPort   = "stderr_listener_port"
)

// Runtime is a flat string-to-string bag, archived as part of a Topology.
// Multi-valued fields (vertex_hosts, frontiers, bridges) use the source's
// own "k1 v1 k2 v2 ..." space-joined scheme rather than a nested
// structure, so the wire layout matches spec.md section 6 exactly.
type Runtime map[string]string

// Get returns the raw string for key, or "" if unset.
func (r Runtime) Get(key string) string { return r[key] }

// Set stores value under key.
func (r Runtime) Set(key, value string) { r[key] = value }

// Int returns key parsed as an int, or def if unset/unparseable.
func (r Runtime) Int(key string, def int) int {
	v, ok := r[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// SetInt stores n as key's value.
func (r Runtime) SetInt(key string, n int) { r[key] = strconv.Itoa(n) }

// Pairs parses a "k1 v1 k2 v2 ..." space-joined value into an ordered
// slice of key/value pairs.
func (r Runtime) Pairs(key string) [][2]string {
	fields := strings.Fields(r[key])
	var out [][2]string
	for i := 0; i+1 < len(fields); i += 2 {
		out = append(out, [2]string{fields[i], fields[i+1]})
	}
	return out
}

// SetPairs serializes pairs into key using the "k1 v1 k2 v2 ..." scheme.
func (r Runtime) SetPairs(key string, pairs [][2]string) {
	parts := make([]string, 0, len(pairs)*2)
	for _, p := range pairs {
		parts = append(parts, p[0], p[1])
	}
	r[key] = strings.Join(parts, " ")
}

// ExecutionMode returns the RuntimeExecutionMode value ("local", "submit",
// or "distributed").
func (r Runtime) ExecutionMode() string { return r.Get(RuntimeExecutionMode) }

// ThisHost returns the RuntimeThisHost value.
func (r Runtime) ThisHost() string { return r.Get(RuntimeThisHost) }

// MasterHost returns the RuntimeMasterHost value.
func (r Runtime) MasterHost() string { return r.Get(RuntimeMasterHost) }

// SubmitFile returns the RuntimeSubmitFile value.
func (r Runtime) SubmitFile() string { return r.Get(RuntimeSubmitFile) }

// SubmitArgv returns the RuntimeSubmitArgv value split on spaces.
func (r Runtime) SubmitArgv() []string { return strings.Fields(r.Get(RuntimeSubmitArgv)) }

// Program returns the RuntimeProgram value.
func (r Runtime) Program() string { return r.Get(RuntimeProgram) }

// StdoutFD returns the RuntimeStdoutFD value as an int, or -1 if unset.
func (r Runtime) StdoutFD() int { return r.Int(RuntimeStdoutFD, -1) }

// StderrFD returns the RuntimeStderrFD value as an int, or -1 if unset.
func (r Runtime) StderrFD() int { return r.Int(RuntimeStderrFD, -1) }

// TopologyFD returns the RuntimeTopologyFD value as an int, or -1 if
// unset.
func (r Runtime) TopologyFD() int { return r.Int(RuntimeTopologyFD, -1) }

// VertexHosts returns the parsed "vertex key -> host" pairs.
func (r Runtime) VertexHosts() [][2]string { return r.Pairs(RuntimeVertexHosts) }

// Frontiers returns the parsed "stream key -> fd" pairs for the current
// container's inter-container streams.
func (r Runtime) Frontiers() [][2]string { return r.Pairs(RuntimeFrontiers) }

// Bridges returns the parsed "stream key -> fd" pairs a vertex program
// inherits for its incident streams.
func (r Runtime) Bridges() [][2]string { return r.Pairs(RuntimeBridges) }

// StdoutListenerPort returns the RuntimeStdoutListenerPort value as an
// int, or def if unset.
func (r Runtime) StdoutListenerPort(def int) int { return r.Int(RuntimeStdoutListenerPort, def) }

// StderrListenerPort returns the RuntimeStderrListenerPort value as an
// int, or def if unset.
func (r Runtime) StderrListenerPort(def int) int { return r.Int(RuntimeStderrListenerPort, def) }
