// Command dtc-master runs the cluster controller of spec.md section 4.7:
// it listens for agent and submitter connections, schedules submitted
// graphs onto registered agents, and exits once asked to via SIGINT/SIGTERM.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/flowmesh/dtc/env"
	"github.com/flowmesh/dtc/log"
	"github.com/flowmesh/dtc/master"
)

var logger = log.New("component", "dtc-master")

func main() {
	numWorkers := flag.Int("workers", env.NumCPU(4), "reactor worker pool size")
	flag.Parse()

	m, err := master.New(*numWorkers)
	if err != nil {
		logger.Errorw("failed to start master", "error", err)
		os.Exit(1)
	}
	go m.Dispatch()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Infow("shutting down")
	if err := m.Close(); err != nil {
		logger.Errorw("error during shutdown", "error", err)
	}
}
