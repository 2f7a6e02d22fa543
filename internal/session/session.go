// Package session tracks connection lifecycle: heartbeats, the online set,
// disconnect grace tickets, and reconnect reclaim (spec §4.7).
package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/CoreLoopStudios-Org/GameService/internal/gamemodule"
	"github.com/CoreLoopStudios-Org/GameService/internal/registry"
)

// DefaultGracePeriod is the reconnection window after a disconnect (spec
// §6.5, session.reconnectionGracePeriodSeconds).
const DefaultGracePeriod = 15 * time.Second

// DefaultCleanupInterval is how often the cleanup worker polls for expired
// disconnect tickets (spec §4.7: every 1s, not leader-gated).
const DefaultCleanupInterval = time.Second

// Broadcaster is the narrow surface session needs to announce connection
// state changes.
type Broadcaster interface {
	BroadcastPlayerDisconnected(roomID, userID string, gracePeriodSeconds int)
	BroadcastPlayerReconnected(roomID, userID string)
	BroadcastPlayerLeft(roomID, userID string)
}

// RoomServiceLookup resolves the room service responsible for a room's
// game type, so the cleanup worker can call LeaveRoom without importing
// any specific game module.
type RoomServiceLookup func(gameType string) (gamemodule.RoomService, bool)

// Manager coordinates connection bookkeeping against the registry.
type Manager struct {
	registry    *registry.Registry
	broadcaster Broadcaster
	lookupSvc   RoomServiceLookup
	gracePeriod time.Duration
	logger      *zap.Logger
}

// New builds a Manager.
func New(reg *registry.Registry, broadcaster Broadcaster, lookupSvc RoomServiceLookup, logger *zap.Logger) *Manager {
	return &Manager{
		registry:    reg,
		broadcaster: broadcaster,
		lookupSvc:   lookupSvc,
		gracePeriod: DefaultGracePeriod,
		logger:      logger,
	}
}

// WithGracePeriod overrides the default reconnection window.
func (m *Manager) WithGracePeriod(d time.Duration) *Manager { m.gracePeriod = d; return m }

// Connect registers a new connection for userID, marks the user online,
// and — if a disconnect ticket is outstanding — reclaims the room and
// cancels it, returning the reclaimed room id.
func (m *Manager) Connect(ctx context.Context, userID, connectionID string) (reclaimedRoomID string, reconnected bool, err error) {
	if err := m.registry.Heartbeat(ctx, userID, connectionID); err != nil {
		return "", false, err
	}
	roomID, hasTicket, err := m.registry.GetDisconnectTicket(ctx, userID)
	if err != nil {
		return "", false, err
	}
	if !hasTicket {
		return "", false, nil
	}
	if err := m.registry.CancelDisconnectTicket(ctx, userID); err != nil {
		return "", false, err
	}
	if m.broadcaster != nil {
		m.broadcaster.BroadcastPlayerReconnected(roomID, userID)
	}
	return roomID, true, nil
}

// Heartbeat refreshes userID's liveness without touching disconnect state.
func (m *Manager) Heartbeat(ctx context.Context, userID, connectionID string) error {
	return m.registry.Heartbeat(ctx, userID, connectionID)
}

// Disconnect removes one connection for userID. If it was the user's last
// live connection and they are seated in roomID, a disconnect ticket is
// opened and a PlayerDisconnected event is broadcast.
func (m *Manager) Disconnect(ctx context.Context, userID, connectionID, roomID string) error {
	remaining, err := m.registry.RemoveConnection(ctx, userID, connectionID)
	if err != nil {
		return err
	}
	if remaining > 0 || roomID == "" {
		return nil
	}
	expiresAt := time.Now().Add(m.gracePeriod)
	if err := m.registry.CreateDisconnectTicket(ctx, userID, roomID, expiresAt); err != nil {
		return err
	}
	if m.broadcaster != nil {
		m.broadcaster.BroadcastPlayerDisconnected(roomID, userID, int(m.gracePeriod.Seconds()))
	}
	return nil
}

// RunCleanupWorker blocks, polling for expired disconnect tickets every
// DefaultCleanupInterval until ctx is cancelled. Every node runs this; it
// is not leader-gated (spec §4.7).
func (m *Manager) RunCleanupWorker(ctx context.Context, lookupGameType func(roomID string) (string, bool)) {
	ticker := time.NewTicker(DefaultCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepExpiredTickets(ctx, lookupGameType)
		}
	}
}

const cleanupBatchSize = 100

func (m *Manager) sweepExpiredTickets(ctx context.Context, lookupGameType func(roomID string) (string, bool)) {
	expired, err := m.registry.GetExpiredDisconnectTickets(ctx, time.Now(), cleanupBatchSize)
	if err != nil {
		m.logf("read expired disconnect tickets failed", err)
		return
	}
	for _, userID := range expired {
		m.evict(ctx, userID, lookupGameType)
	}
}

func (m *Manager) evict(ctx context.Context, userID string, lookupGameType func(roomID string) (string, bool)) {
	roomID, hasTicket, err := m.registry.GetDisconnectTicket(ctx, userID)
	if err != nil {
		m.logf("read disconnect ticket failed for "+userID, err)
		return
	}
	if !hasTicket {
		return
	}

	if gameType, ok := lookupGameType(roomID); ok {
		if svc, ok := m.lookupSvc(gameType); ok {
			if err := svc.LeaveRoom(ctx, roomID, userID); err != nil {
				m.logf("LeaveRoom failed evicting "+userID, err)
			}
		}
	}
	if err := m.registry.ClearUserRoom(ctx, userID); err != nil {
		m.logf("clear user room failed for "+userID, err)
	}
	if err := m.registry.CancelDisconnectTicket(ctx, userID); err != nil {
		m.logf("cancel disconnect ticket failed for "+userID, err)
	}
	if m.broadcaster != nil {
		m.broadcaster.BroadcastPlayerLeft(roomID, userID)
	}
}

func (m *Manager) logf(msg string, err error) {
	if m.logger == nil {
		return
	}
	m.logger.Warn(msg, zap.Error(err))
}
