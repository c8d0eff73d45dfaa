// Package status exposes minimal read-only JSON endpoints over
// internal/httpserver: /healthz on every process, plus a process-specific
// info endpoint (cluster state on the master, host/task state on an
// agent). This is deliberately not the WebUI/topology-visualization layer
// spec.md's Non-goals exclude — no HTML, no assets — just the same kind
// of liveness/info JSON surface a production-oriented repo in this corpus
// (linkerd2's admin server) exposes for its control plane.
//
// Adapted from the teacher's processor/source/http/http.go: the
// handler-registration and optional BasicAuth shape is kept, the
// record-ingestion body it wrapped is replaced by a JSON snapshot
// endpoint.
package status

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/flowmesh/dtc/internal/httpserver"
)

// AgentSummary is one agent's advertised and currently free resources, as
// seen by the master.
type AgentSummary struct {
	Key         int64  `json:"key"`
	Host        string `json:"host"`
	NumCPUs     int    `json:"num_cpus"`
	MemoryBytes int64  `json:"memory_bytes"`
	SpaceBytes  int64  `json:"space_bytes"`
	FreeCPUs    int    `json:"free_cpus"`
	FreeMemory  int64  `json:"free_memory_bytes"`
	FreeSpace   int64  `json:"free_space_bytes"`
	NumTasks    int    `json:"num_tasks"`
}

// GraphSummary is one submitted graph's scheduling state, as seen by the
// master.
type GraphSummary struct {
	Key           int64 `json:"key"`
	NumContainers int   `json:"num_containers"`
	NumPlaced     int   `json:"num_placed"`
	Queued        bool  `json:"queued"`
}

// ClusterInfo is the master's /status payload.
type ClusterInfo struct {
	Agents []AgentSummary `json:"agents"`
	Graphs []GraphSummary `json:"graphs"`
}

// TaskSummary is one task this agent currently holds.
type TaskSummary struct {
	Graph     int64  `json:"graph"`
	Container int64  `json:"container"`
	Phase     string `json:"phase"`
}

// AgentInfo is an agent's /status payload.
type AgentInfo struct {
	Host        string        `json:"host"`
	NumCPUs     int           `json:"num_cpus"`
	MemoryBytes int64         `json:"memory_bytes"`
	SpaceBytes  int64         `json:"space_bytes"`
	Tasks       []TaskSummary `json:"tasks"`
}

// Server is a tiny read-only JSON status server shared by the master and
// agent daemons.
type Server struct {
	http *httpserver.Server
}

// New builds a Server listening on addr.
func New(addr string) *Server {
	return &Server{http: httpserver.New(httpserver.Config{Addr: addr})}
}

// Start serves until Close is called; meant to be run in its own
// goroutine, mirroring the teacher's Source.Start.
func (s *Server) Start() error { return s.http.Start() }

// Close shuts the server down.
func (s *Server) Close() error { return s.http.Close(context.Background()) }

// RegisterHealthz adds a trivial liveness handler.
func (s *Server) RegisterHealthz() {
	s.http.AddHandler(http.MethodGet, "/healthz", func(w http.ResponseWriter, r *http.Request, _ httpserver.Params) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}

// RegisterClusterStatus adds GET /status on the master, serving the result
// of snapshot freshly computed per request.
func (s *Server) RegisterClusterStatus(snapshot func() ClusterInfo, user, password string) {
	s.registerJSON("/status", func() interface{} { return snapshot() }, user, password)
}

// RegisterAgentStatus adds GET /status on an agent.
func (s *Server) RegisterAgentStatus(snapshot func() AgentInfo, user, password string) {
	s.registerJSON("/status", func() interface{} { return snapshot() }, user, password)
}

func (s *Server) registerJSON(path string, snapshot func() interface{}, user, password string) {
	handler := func(w http.ResponseWriter, r *http.Request, _ httpserver.Params) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snapshot())
	}
	if user != "" && password != "" {
		handler = httpserver.BasicAuth(handler, user, password)
	}
	s.http.AddHandler(http.MethodGet, path, handler)
}
