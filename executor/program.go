package executor

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/flowmesh/dtc/device"
	"github.com/flowmesh/dtc/event"
	"github.com/flowmesh/dtc/graph"
)

// spawnProgram execs the external program declared on vs.v.Program,
// bridging every incident stream's socket fd into the child via
// exec.Cmd.ExtraFiles — Go's standard mechanism for passing descriptors
// across exec, replacing the source's manual dup2/cloexec dance (spec.md
// section 4.5). A bridges runtime string ("streamKey fd ...") is passed so
// the child program can locate each stream by the same keys the graph
// uses. The child's own runtime environment is assembled from ProgramSpec
// plus every DTC_* key already present on the executor's Topology.Runtime.
func (ex *Executor) spawnProgram(vs *vertexState) error {
	spec := vs.v.Program
	if len(spec.Argv) == 0 {
		return fmt.Errorf("executor: vertex %d declares a Program with no argv", vs.v.Key)
	}

	streams := ex.streamsOf(vs.v.Key)

	extraFiles := make([]*os.File, 0, len(streams))
	var bridges [][2]string

	for _, st := range streams {
		dev := vs.ownDevice(st)
		f, err := fileForFd(dev.Fd())
		if err != nil {
			return err
		}
		childFd := 3 + len(extraFiles)
		extraFiles = append(extraFiles, f)
		bridges = append(bridges, [2]string{keyString(st.s.Key), fmt.Sprintf("%d", childFd)})

		// The Go side no longer drives this stream directly once the
		// child owns its fd; detach the reactor events but keep the
		// streamState (RemoveIStream/RemoveOStream may still be called by
		// the vertex's handlers to tear the bridge down explicitly).
		if st.s.TailVertex == vs.v.Key {
			ex.reactor.Remove(st.wrEv)
		}
		if st.s.HeadVertex == vs.v.Key {
			ex.reactor.Remove(st.rdEv)
		}
	}

	rt := graph.Runtime{}
	if ex.tpg != nil {
		for k, v := range ex.tpg.Runtime {
			rt[k] = v
		}
	}
	rt.SetPairs(graph.RuntimeBridges, bridges)

	env := os.Environ()
	for k, v := range rt {
		env = append(env, "DTC_"+strings.ToUpper(k)+"="+v)
	}
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Env = env
	cmd.ExtraFiles = extraFiles
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	deathR, deathW, err := os.Pipe()
	if err != nil {
		return err
	}
	cmd.ExtraFiles = append(cmd.ExtraFiles, deathW)

	if err := cmd.Start(); err != nil {
		deathR.Close()
		deathW.Close()
		return err
	}
	deathW.Close()

	deathDev, err := device.New(int(deathR.Fd()))
	if err != nil {
		return err
	}

	ex.reactor.Insert(event.NewRead(deathDev, func(*event.Event) event.Signal {
		var buf [1]byte
		if _, err := deathDev.Read(buf[:]); err != nil {
			state, werr := cmd.Process.Wait()
			deathDev.Close()
			if werr == nil && state != nil && !state.Success() {
				logger.Errorw("vertex program exited non-zero", "vertex", vs.v.Key, "exit_code", state.ExitCode())
				panic(fmt.Sprintf("vertex %d program exited with status %d", vs.v.Key, state.ExitCode()))
			}
			return event.Remove
		}
		return event.Default
	}))

	return nil
}

// ownDevice returns the socket end st.s gives to vertex vs (tail if vs is
// the tail vertex, head otherwise).
func (vs *vertexState) ownDevice(st *streamState) device.Device {
	if st.s.TailVertex == vs.v.Key {
		return st.tailDev
	}
	return st.headDev
}

// fileForFd wraps fd as an *os.File for use in exec.Cmd.ExtraFiles. The
// returned File shares the same underlying fd; it must not be closed
// independently of the device that owns fd.
func fileForFd(fd int) (*os.File, error) {
	f := os.NewFile(uintptr(fd), "")
	if f == nil {
		return nil, fmt.Errorf("executor: invalid fd %d", fd)
	}
	return f, nil
}
