// Package env reads the DTC_* runtime environment variables that form the
// wire contract between the master, agent, and executor processes
// (spec.md section 6).
package env

import (
	"os"
	"strconv"
)

// Listener port defaults (spec.md section 6).
const (
	DefaultAgentListenerPort    = 9909
	DefaultGraphListenerPort    = 9910
	DefaultShellListenerPort    = 9911
	DefaultWebUIListenerPort    = 9912
	DefaultFrontierListenerPort = 9913
)

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvInt64(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// ExecutionMode returns DTC_EXECUTION_MODE ("local"|"submit"|"distributed").
func ExecutionMode() string { return getenv("DTC_EXECUTION_MODE", "local") }

// ThisHost returns DTC_THIS_HOST.
func ThisHost() string { return getenv("DTC_THIS_HOST", "127.0.0.1") }

// MasterHost returns DTC_MASTER_HOST.
func MasterHost() string { return getenv("DTC_MASTER_HOST", "127.0.0.1") }

// AgentListenerPort returns DTC_AGENT_LISTENER_PORT (default 9909).
func AgentListenerPort() int { return getenvInt("DTC_AGENT_LISTENER_PORT", DefaultAgentListenerPort) }

// GraphListenerPort returns DTC_GRAPH_LISTENER_PORT (default 9910).
func GraphListenerPort() int { return getenvInt("DTC_GRAPH_LISTENER_PORT", DefaultGraphListenerPort) }

// ShellListenerPort returns DTC_SHELL_LISTENER_PORT (default 9911). Unused
// in the core per spec.md section 1.
func ShellListenerPort() int { return getenvInt("DTC_SHELL_LISTENER_PORT", DefaultShellListenerPort) }

// WebUIListenerPort returns DTC_WEBUI_LISTENER_PORT (default 9912). Used
// here only for the minimal status JSON endpoint, not a full WebUI.
func WebUIListenerPort() int { return getenvInt("DTC_WEBUI_LISTENER_PORT", DefaultWebUIListenerPort) }

// FrontierListenerPort returns DTC_FRONTIER_LISTENER_PORT (default 9913).
func FrontierListenerPort() int {
	return getenvInt("DTC_FRONTIER_LISTENER_PORT", DefaultFrontierListenerPort)
}

// StdoutListenerPort returns DTC_STDOUT_LISTENER_PORT.
func StdoutListenerPort() int { return getenvInt("DTC_STDOUT_LISTENER_PORT", 0) }

// StderrListenerPort returns DTC_STDERR_LISTENER_PORT.
func StderrListenerPort() int { return getenvInt("DTC_STDERR_LISTENER_PORT", 0) }

// StdoutFd returns DTC_STDOUT_FD.
func StdoutFd() int { return getenvInt("DTC_STDOUT_FD", -1) }

// StderrFd returns DTC_STDERR_FD.
func StderrFd() int { return getenvInt("DTC_STDERR_FD", -1) }

// TopologyFd returns DTC_TOPOLOGY_FD, the inherited control socket fd on
// the executor child side.
func TopologyFd() int { return getenvInt("DTC_TOPOLOGY_FD", -1) }

// VertexHosts returns the raw DTC_VERTEX_HOSTS value ("k1 h1 k2 h2 ...").
func VertexHosts() string { return getenv("DTC_VERTEX_HOSTS", "") }

// Frontiers returns the raw DTC_FRONTIERS value ("sk1 fd1 sk2 fd2 ...").
func Frontiers() string { return getenv("DTC_FRONTIERS", "") }

// Bridges returns the raw DTC_BRIDGES value ("sk1 fd1 ...").
func Bridges() string { return getenv("DTC_BRIDGES", "") }

// SubmitFile returns DTC_SUBMIT_FILE.
func SubmitFile() string { return getenv("DTC_SUBMIT_FILE", "") }

// SubmitArgv returns DTC_SUBMIT_ARGV.
func SubmitArgv() string { return getenv("DTC_SUBMIT_ARGV", "") }

// Program returns DTC_PROGRAM, a per-vertex override of the spawned binary.
func Program() string { return getenv("DTC_PROGRAM", "") }

// NumCPU returns a best-effort worker pool size for the local Reactor from
// DTC_NUM_WORKERS, defaulting to def.
func NumCPU(def int) int { return getenvInt("DTC_NUM_WORKERS", def) }

// AgentNumCPUs overrides the agent's advertised Resource.NumCPUs, for hosts
// where only a fraction of the machine's CPUs should be offered to the
// cluster. Zero or unset means "use the detected value".
func AgentNumCPUs(def int) int { return getenvInt("DTC_AGENT_CPUS", def) }

// AgentMemoryBytes overrides the agent's advertised Resource.MemoryBytes.
func AgentMemoryBytes(def int64) int64 { return getenvInt64("DTC_AGENT_MEMORY_BYTES", def) }

// AgentSpaceBytes overrides the agent's advertised Resource.SpaceBytes.
func AgentSpaceBytes(def int64) int64 { return getenvInt64("DTC_AGENT_SPACE_BYTES", def) }

// AgentSpacePath is the filesystem path statfs'd to detect SpaceBytes when
// DTC_AGENT_SPACE_BYTES is unset.
func AgentSpacePath() string { return getenv("DTC_AGENT_SPACE_PATH", "/") }

// StatusUser returns DTC_STATUS_USER; empty means the /status endpoint is
// unauthenticated.
func StatusUser() string { return getenv("DTC_STATUS_USER", "") }

// StatusPassword returns DTC_STATUS_PASSWORD.
func StatusPassword() string { return getenv("DTC_STATUS_PASSWORD", "") }
