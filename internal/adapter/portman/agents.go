package portman

import (
	"sort"
	"sync"
)

// AgentConnection is the record of one connected Portman-class agent. The
// connection id is process-local and never reused; the agent id is learned
// from the first register_agent envelope on the connection.
type AgentConnection struct {
	PeerAddr     string `json:"peer_addr"`
	AgentID      string `json:"agent_id,omitempty"`
	ConnectionID uint64 `json:"connection_id"`
}

// Agents is the in-memory registry of connected agent sockets. Short-held
// RWMutex guarding only map mutation.
type Agents struct {
	mu          sync.RWMutex
	nextID      uint64
	connections map[uint64]AgentConnection
}

func NewAgents() *Agents {
	return &Agents{connections: make(map[uint64]AgentConnection)}
}

// Add registers a newly upgraded agent connection.
func (a *Agents) Add(peerAddr string) AgentConnection {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nextID++
	conn := AgentConnection{
		ConnectionID: a.nextID,
		PeerAddr:     peerAddr,
	}
	a.connections[conn.ConnectionID] = conn
	return conn
}

// SetAgentID attaches the protocol-level agent identity to a connection.
// Later register_agent frames may update it.
func (a *Agents) SetAgentID(connectionID uint64, agentID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if conn, ok := a.connections[connectionID]; ok {
		conn.AgentID = agentID
		a.connections[connectionID] = conn
	}
}

// Remove deregisters a connection, reporting whether it was present.
func (a *Agents) Remove(connectionID uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok := a.connections[connectionID]
	delete(a.connections, connectionID)
	return ok
}

// List snapshots the current connections ordered by connection id.
func (a *Agents) List() []AgentConnection {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]AgentConnection, 0, len(a.connections))
	for _, conn := range a.connections {
		out = append(out, conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out
}

func (a *Agents) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.connections)
}
