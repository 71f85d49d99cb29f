package tcp

import (
	"log/slog"
	"sync"

	"panelbridge/internal/microservices/relay"
	"panelbridge/internal/protocol"
	"panelbridge/internal/state"
)

type ConnectionManager struct {
	clients map[string]*ClientConnection
	// the lock also orders snapshot frames ahead of change frames for a new client
	mu     sync.RWMutex
	hub    Injector
	codec  protocol.PipeCodec
	logger *slog.Logger
}

func NewConnectionManager(hub Injector, logger *slog.Logger) *ConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionManager{
		clients: make(map[string]*ClientConnection),
		hub:     hub,
		logger:  logger,
	}
}

// AddConnection registers the client and queues the current snapshot for it
func (m *ConnectionManager) AddConnection(client *ClientConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[client.ID] = client

	for _, cmd := range m.hub.Snapshot().Commands() {
		frame, err := m.codec.Encode(cmd)
		if err != nil {
			m.logger.Warn("snapshot_encode_failed", "client_id", client.ID, "command", cmd.String(), "error", err)
			continue
		}
		client.enqueue(frame)
	}
	m.logger.Info("client_added",
		"client_id", client.ID,
		"panel", client.Panel,
		"remote_addr", client.conn.RemoteAddr().String(),
	)
}

// RemoveConnection unregisters the client and stops its writer
func (m *ConnectionManager) RemoveConnection(client *ClientConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[client.ID]; !ok {
		return
	}
	delete(m.clients, client.ID)
	close(client.send)
	m.logger.Info("client_removed",
		"client_id", client.ID,
	)
}

// CloseAllConnections closes every socket; each reader then removes itself
func (m *ConnectionManager) CloseAllConnections() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, client := range m.clients {
		client.Close()
		m.logger.Info("client_connection_closed",
			"client_id", id,
		)
	}
}

func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// OnChange implements relay.ChangeListener. It runs on the hub goroutine and
// only queues.
func (m *ConnectionManager) OnChange(change state.Change, _ relay.Origin) {
	cmd, ok := change.Command()
	if !ok {
		return
	}
	frame, err := m.codec.Encode(cmd)
	if err != nil {
		// names with a delimiter cannot be sent as pipe text
		m.logger.Warn("change_encode_failed", "field", change.Field, "error", err)
		return
	}
	m.Broadcast(frame)
}

func (m *ConnectionManager) Broadcast(frame []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.clients {
		c.enqueue(frame)
	}
}
