package container

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSpawnRunsAndExits(t *testing.T) {
	p, err := Spawn(Spec{Argv: []string{"/bin/sh", "-c", "exit 0"}})
	require.NoError(t, err)
	require.Greater(t, p.Pid(), 0)
	require.NoError(t, p.Wait())
}

func TestSpawnNonZeroExit(t *testing.T) {
	p, err := Spawn(Spec{Argv: []string{"/bin/sh", "-c", "exit 7"}})
	require.NoError(t, err)
	err = p.Wait()
	require.Error(t, err)
}

func TestSpawnEmptyArgv(t *testing.T) {
	_, err := Spawn(Spec{})
	require.Error(t, err)
}

func TestCGroupBestEffortNoPanic(t *testing.T) {
	cg := NewCGroup("test-task")
	cg.SetCPUQuota(2)
	cg.SetMemoryLimit(1 << 20)
	cg.AddPid(1)
	cg.Remove()
}

func TestSpawnKill(t *testing.T) {
	p, err := Spawn(Spec{Argv: []string{"/bin/sh", "-c", "sleep 30"}})
	require.NoError(t, err)
	require.NoError(t, p.Kill())

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("killed process never reaped")
	}
}
