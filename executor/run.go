package executor

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/flowmesh/dtc/env"
	"github.com/flowmesh/dtc/errc"
	"github.com/flowmesh/dtc/graph"
	"github.com/flowmesh/dtc/store"
	"github.com/flowmesh/dtc/wire"
)

// Run is the single entry point a graph-defining program calls, mirroring
// DtCraft's own `dtc::Executor(G).run()` call in example/kmeans.cpp: it
// dispatches on env.ExecutionMode() so the same binary plays all three
// roles of spec.md section 4.4, re-exec'd by the agent with
// DTC_EXECUTION_MODE=distributed for the container path.
//
//   - local: runs the whole graph in this process until a termination
//     signal arrives.
//   - submit: hands the topology to the master and returns its placement
//     Solution once every task finishes or the graph is rejected/fails.
//   - distributed: runs this container's slice of the graph until a
//     termination signal arrives, reporting TaskRunning on startup and
//     TaskFinished/TaskFailed to the agent on exit.
func Run(g *graph.Graph, storeSupplier store.Supplier) (wire.Solution, error) {
	ex, err := New(g, storeSupplier)
	if err != nil {
		return wire.Solution{}, err
	}

	switch mode := env.ExecutionMode(); mode {
	case "submit":
		return ex.SetupSubmit()
	case "distributed":
		return wire.Solution{}, ex.runDistributed()
	default:
		return wire.Solution{}, ex.runLocal()
	}
}

// runLocal materializes the graph and blocks until SIGINT/SIGTERM.
func (ex *Executor) runLocal() error {
	if err := ex.SetupLocal(); err != nil {
		return err
	}
	go ex.reactor.Dispatch()
	waitForShutdown()
	ex.reactor.BreakLoop()
	return ex.Close()
}

// runDistributed wires this container's slice of the graph, reports its
// status to the agent across the whole lifetime, and blocks until
// SIGINT/SIGTERM tears it down — the agent only learns a task is done
// through this TaskInfo, never by watching the process exit directly
// (spec.md section 4.6).
func (ex *Executor) runDistributed() error {
	if err := ex.SetupDistributed(); err != nil {
		_ = ex.ReportStatus(wire.TaskFailed, errc.FatalConfig)
		return err
	}

	waitForShutdown()

	if err := ex.ReportStatus(wire.TaskFinished, errc.OK); err != nil {
		logger.Warnw("failed to report finished status", "error", err)
	}
	ex.reactor.BreakLoop()
	return ex.Close()
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}
