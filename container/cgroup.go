package container

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/flowmesh/dtc/log"
)

var logger = log.New("component", "container")

// CGroup writes best-effort CPU and memory limits for one task's process,
// grounded on the pack's minimega container driver's pattern of writing
// control files directly under /sys/fs/cgroup rather than going through a
// cgroup management library. Every write is best-effort: a host without
// cgroups configured (or without root) silently gets no enforcement, per
// spec.md section 9.
type CGroup struct {
	path string
}

const cgroupRoot = "/sys/fs/cgroup/dtc"

// NewCGroup creates (best-effort) the cgroup directory for taskID and
// returns a handle to it.
func NewCGroup(taskID string) *CGroup {
	path := filepath.Join(cgroupRoot, taskID)
	os.MkdirAll(path, 0755)
	return &CGroup{path: path}
}

// SetCPUQuota writes cpu.cfs_quota_us, expressing numCPUs as a multiple of
// the standard 100ms period (quota = period * numCPUs).
func (g *CGroup) SetCPUQuota(numCPUs int) {
	if numCPUs <= 0 {
		return
	}
	const period = 100000
	quota := period * numCPUs
	g.write("cpu.cfs_period_us", strconv.Itoa(period))
	g.write("cpu.cfs_quota_us", strconv.Itoa(quota))
}

// SetMemoryLimit writes memory.limit_in_bytes.
func (g *CGroup) SetMemoryLimit(bytes int64) {
	if bytes <= 0 {
		return
	}
	g.write("memory.limit_in_bytes", strconv.FormatInt(bytes, 10))
}

// AddPid associates pid with this cgroup by writing it to the tasks file.
func (g *CGroup) AddPid(pid int) {
	g.write("tasks", strconv.Itoa(pid))
}

// Remove deletes the cgroup directory, best-effort (it only succeeds once
// no task remains assigned to it).
func (g *CGroup) Remove() {
	os.Remove(g.path)
}

func (g *CGroup) write(file, value string) {
	p := filepath.Join(g.path, file)
	if err := os.WriteFile(p, []byte(value), 0644); err != nil {
		// Cgroups unavailable or unwritable: swallow, matching spec.md
		// section 9's best-effort resource limiting.
		logger.Debugw("cgroup write failed", "file", p, "error", err)
	}
}
