package status

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := http.Get("http://" + addr + "/healthz")
		if err == nil {
			conn.Body.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("status server never became reachable")
}

func TestHealthzAndClusterStatus(t *testing.T) {
	addr := "127.0.0.1:18291"
	s := New(addr)
	s.RegisterHealthz()
	s.RegisterClusterStatus(func() ClusterInfo {
		return ClusterInfo{Agents: []AgentSummary{{Key: 1, Host: "h1", NumCPUs: 4}}}
	}, "", "")
	go s.Start()
	defer s.Close()

	waitForServer(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get("http://" + addr + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info ClusterInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	require.Len(t, info.Agents, 1)
	require.Equal(t, "h1", info.Agents[0].Host)
}

func TestStatusBasicAuthRejectsWrongCredentials(t *testing.T) {
	addr := "127.0.0.1:18292"
	s := New(addr)
	s.RegisterAgentStatus(func() AgentInfo {
		return AgentInfo{Host: "agent-a"}
	}, "admin", "secret")
	go s.Start()
	defer s.Close()

	waitForServer(t, addr)

	resp, err := http.Get("http://" + addr + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, "http://"+addr+"/status", nil)
	require.NoError(t, err)
	req.SetBasicAuth("admin", "secret")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
}
