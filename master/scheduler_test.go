package master

import (
	"testing"

	"github.com/flowmesh/dtc/graph"
	"github.com/stretchr/testify/require"
)

func newAgent(key graph.Key, host string, cpus int, mem int64) *agentState {
	return &agentState{
		Key:      key,
		Host:     host,
		Resource: graph.Resources{NumCPUs: cpus, MemoryBytes: mem, SpaceBytes: mem},
		Released: graph.Resources{NumCPUs: cpus, MemoryBytes: mem, SpaceBytes: mem},
		CPUBins:  make([]CPUBin, cpus),
		Tasks:    make(map[graph.TaskID]graph.Resources),
	}
}

func TestScheduleBestFitByLeftoverMemory(t *testing.T) {
	// small has less free memory than big, so a 2-CPU/100-byte request
	// should land on small: it is the tighter fit by leftover memory.
	small := newAgent(1, "host-a", 4, 200)
	big := newAgent(2, "host-b", 4, 1000)

	containers := []graph.Container{
		{Key: 10, Resource: graph.Resources{NumCPUs: 2, MemoryBytes: 100}},
	}

	placement, ok := schedule(containers, []*agentState{small, big})
	require.True(t, ok)
	require.Equal(t, graph.Key(1), placement[10])
}

func TestScheduleDescendingCPUOrderFailsWhenAnyContainerDoesNotFit(t *testing.T) {
	a := newAgent(1, "host-a", 4, 1000)

	containers := []graph.Container{
		{Key: 1, Resource: graph.Resources{NumCPUs: 2, MemoryBytes: 100}},
		{Key: 2, Resource: graph.Resources{NumCPUs: 3, MemoryBytes: 100}}, // would need 5 total CPUs
	}

	_, ok := schedule(containers, []*agentState{a})
	require.False(t, ok)
}

func TestScheduleRequiredHostPins(t *testing.T) {
	a := newAgent(1, "host-a", 4, 1000)
	b := newAgent(2, "host-b", 4, 1000)

	containers := []graph.Container{
		{Key: 1, Resource: graph.Resources{NumCPUs: 1, MemoryBytes: 10}, RequiredHost: "host-b"},
	}

	placement, ok := schedule(containers, []*agentState{a, b})
	require.True(t, ok)
	require.Equal(t, graph.Key(2), placement[1])
}

func TestScheduleTieBreaksOnPreferredHostThenAgentKey(t *testing.T) {
	// Identical capacity on both agents: tie-break must pick the
	// preferred host even though it isn't the lowest agent key.
	a := newAgent(1, "host-a", 4, 1000)
	b := newAgent(2, "host-b", 4, 1000)

	containers := []graph.Container{
		{Key: 1, Resource: graph.Resources{NumCPUs: 1, MemoryBytes: 10}, PreferredHosts: []string{"host-b"}},
	}

	placement, ok := schedule(containers, []*agentState{a, b})
	require.True(t, ok)
	require.Equal(t, graph.Key(2), placement[1])

	// No preference: lowest agent key wins the tie deterministically.
	containers[0].PreferredHosts = nil
	placement, ok = schedule(containers, []*agentState{a, b})
	require.True(t, ok)
	require.Equal(t, graph.Key(1), placement[1])
}

func TestScheduleDeterministicAcrossRepeatedCalls(t *testing.T) {
	agents := []*agentState{
		newAgent(1, "host-a", 8, 4000),
		newAgent(2, "host-b", 4, 2000),
		newAgent(3, "host-c", 6, 3000),
	}
	containers := []graph.Container{
		{Key: 1, Resource: graph.Resources{NumCPUs: 2, MemoryBytes: 500}},
		{Key: 2, Resource: graph.Resources{NumCPUs: 4, MemoryBytes: 1000}},
		{Key: 3, Resource: graph.Resources{NumCPUs: 1, MemoryBytes: 100}},
	}

	first, ok := schedule(containers, agents)
	require.True(t, ok)
	for i := 0; i < 10; i++ {
		again, ok := schedule(containers, agents)
		require.True(t, ok)
		require.Equal(t, first, again)
	}
}
