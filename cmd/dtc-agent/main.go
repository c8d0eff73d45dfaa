// Command dtc-agent runs the per-host daemon of spec.md section 4.6: it
// registers this host's resources with the master, accepts deployed
// per-container topologies, and spawns and supervises their executors.
package main

import (
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/flowmesh/dtc/agent"
	"github.com/flowmesh/dtc/env"
	"github.com/flowmesh/dtc/log"
)

var logger = log.New("component", "dtc-agent")

func main() {
	cpus := flag.Int("cpus", 0, "CPUs advertised to the cluster (0 = detect)")
	memBytes := flag.Int64("memory-bytes", 0, "memory advertised to the cluster (0 = detect)")
	spaceBytes := flag.Int64("space-bytes", 0, "disk space advertised to the cluster (0 = detect)")
	flag.Parse()

	numCPUs := env.AgentNumCPUs(*cpus)
	if numCPUs <= 0 {
		numCPUs = runtime.NumCPU()
	}
	memoryBytes := env.AgentMemoryBytes(*memBytes)
	if memoryBytes <= 0 {
		memoryBytes = detectMemoryBytes()
	}
	spaceBytesVal := env.AgentSpaceBytes(*spaceBytes)
	if spaceBytesVal <= 0 {
		spaceBytesVal = detectSpaceBytes(env.AgentSpacePath())
	}

	ag, err := agent.New(numCPUs, memoryBytes, spaceBytesVal)
	if err != nil {
		logger.Errorw("failed to start agent", "error", err)
		os.Exit(1)
	}
	go ag.Dispatch()

	logger.Infow("agent started", "cpus", numCPUs, "memoryBytes", memoryBytes, "spaceBytes", spaceBytesVal)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Infow("shutting down")
	if err := ag.Close(); err != nil {
		logger.Errorw("error during shutdown", "error", err)
	}
}

// detectMemoryBytes reports the host's total physical memory via
// syscall.Sysinfo; 0 on any error (the caller then offers 0, letting the
// master's scheduler correctly treat this agent as unable to fit anything
// until an operator sets -memory-bytes or DTC_AGENT_MEMORY_BYTES).
func detectMemoryBytes() int64 {
	var info syscall.Sysinfo_t
	if err := syscall.Sysinfo(&info); err != nil {
		logger.Warnw("failed to detect host memory", "error", err)
		return 0
	}
	return int64(info.Totalram) * int64(info.Unit)
}

// detectSpaceBytes reports the free space of the filesystem backing path
// via syscall.Statfs.
func detectSpaceBytes(path string) int64 {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		logger.Warnw("failed to detect host disk space", "error", err, "path", path)
		return 0
	}
	return int64(stat.Bfree) * int64(stat.Bsize)
}
