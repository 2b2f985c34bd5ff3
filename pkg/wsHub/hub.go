package ws

import (
	"context"
	"errors"
	"sync"

	"github.com/feastlane/dispatch-system/pkg/logger"
	wrap "github.com/feastlane/dispatch-system/pkg/logger/wrapper"
	"github.com/feastlane/dispatch-system/pkg/uuid"
)

var (
	ErrEmptyConn      = errors.New("connection is empty")
	ErrConnIsNotFound = errors.New("connection not found")
)

// ConnectionHub stores and manages all active WebSocket connections.
// Connections can additionally be grouped (one group per zone) so that
// zone-scoped broadcasts only touch the drivers currently inside the zone.
type ConnectionHub struct {
	clients map[uuid.UUID]*Conn
	groups  map[string]map[uuid.UUID]struct{}
	l       logger.Logger
	mu      sync.Mutex
	wg      sync.WaitGroup
}

func NewConnHub(l logger.Logger) *ConnectionHub {
	return &ConnectionHub{
		clients: make(map[uuid.UUID]*Conn),
		groups:  make(map[string]map[uuid.UUID]struct{}),
		l:       l,
	}
}

// Add registers a new connection. An existing connection for the same
// entity is closed and replaced.
func (h *ConnectionHub) Add(newConn *Conn) error {
	if newConn == nil {
		return ErrEmptyConn
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := wrap.WithAction(context.Background(), "add_ws_connection")

	if existing, ok := h.clients[newConn.entityID]; ok {
		h.l.Warn(ctx,
			"replacing existing connection",
			"entity_id", existing.entityID,
		)
		if err := existing.Close(); err != nil {
			h.l.Warn(ctx,
				"failed to close existing conn",
				"entity_id", existing.entityID,
				"err", err.Error(),
			)
		}
	}

	h.clients[newConn.entityID] = newConn
	h.wg.Add(1)

	return nil
}

// Delete removes and closes the connection for the given entity,
// dropping it from every group.
func (h *ConnectionHub) Delete(entityID uuid.UUID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := wrap.WithAction(context.Background(), "ws_connection_delete")

	conn, ok := h.clients[entityID]
	if !ok {
		h.l.Warn(ctx,
			"delete called for unknown entity",
			"entity_id", entityID,
		)
		return ErrConnIsNotFound
	}

	if err := conn.Close(); err != nil {
		h.l.Warn(ctx,
			"failed to close conn",
			"entity_id", conn.entityID,
			"err", err.Error(),
		)
	}

	for name, members := range h.groups {
		delete(members, entityID)
		if len(members) == 0 {
			delete(h.groups, name)
		}
	}

	delete(h.clients, entityID)
	h.wg.Done()

	return nil
}

// JoinGroup adds an existing connection to the named group.
// Unknown entities are ignored: a driver may change zones while its
// socket is still being established.
func (h *ConnectionHub) JoinGroup(group string, entityID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[entityID]; !ok {
		return
	}
	members, ok := h.groups[group]
	if !ok {
		members = make(map[uuid.UUID]struct{})
		h.groups[group] = members
	}
	members[entityID] = struct{}{}
}

// LeaveGroup removes the entity from the named group.
func (h *ConnectionHub) LeaveGroup(group string, entityID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[group]
	if !ok {
		return
	}
	delete(members, entityID)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

// SendTo delivers a message to one client.
// Returns ErrConnIsNotFound when the connection is unknown.
func (h *ConnectionHub) SendTo(id uuid.UUID, msg any) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conn, ok := h.clients[id]; ok {
		return conn.Send(msg)
	}
	return ErrConnIsNotFound
}

// BroadcastGroup sends a message to every member of the group.
// Send failures are logged and skipped, not returned.
func (h *ConnectionHub) BroadcastGroup(group string, msg any) {
	h.mu.Lock()
	conns := make([]*Conn, 0)
	for id := range h.groups[group] {
		if conn, ok := h.clients[id]; ok {
			conns = append(conns, conn)
		}
	}
	h.mu.Unlock()

	ctx := wrap.WithAction(context.Background(), "ws_group_broadcast")
	for _, conn := range conns {
		if err := conn.Send(msg); err != nil {
			h.l.Warn(ctx, "failed to send group message",
				"group", group,
				"entity_id", conn.entityID,
				"err", err.Error(),
			)
		}
	}
}

// Close closes every websocket connection.
func (h *ConnectionHub) Close() {
	ctx := wrap.WithAction(context.Background(), "hub_close")

	// copy the clients under lock
	h.mu.Lock()
	clients := make([]*Conn, 0, len(h.clients))
	for _, conn := range h.clients {
		clients = append(clients, conn)
	}
	h.mu.Unlock()
	// close outside the lock
	for _, conn := range clients {
		_ = h.Delete(conn.entityID)
	}

	h.wg.Wait()

	h.l.Info(ctx, "all websocket connections closed gracefully")
}

// Clients returns a copy of the connection map.
func (h *ConnectionHub) Clients() map[uuid.UUID]*Conn {
	h.mu.Lock()
	defer h.mu.Unlock()

	copyMap := make(map[uuid.UUID]*Conn, len(h.clients))
	for id, conn := range h.clients {
		copyMap[id] = conn
	}
	return copyMap
}

// GetConn returns the connection for the given entity.
func (h *ConnectionHub) GetConn(id uuid.UUID) (*Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.clients[id]
	if !ok {
		return nil, ErrConnIsNotFound
	}
	return conn, nil
}
