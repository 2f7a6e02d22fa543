// Package scheduler runs the leader-elected turn-timeout sweep (spec
// §4.6): exactly one node pulls due rooms from the registry's turn-due
// index per tick and invokes each turn-based engine's timeout hook under
// the room's distributed lock.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CoreLoopStudios-Org/GameService/internal/gamemodule"
	"github.com/CoreLoopStudios-Org/GameService/internal/model"
	"github.com/CoreLoopStudios-Org/GameService/internal/registry"
	"github.com/CoreLoopStudios-Org/GameService/internal/roomstore"
)

// DefaultTickInterval, DefaultLeaderTTL, DefaultMaxRoomsPerTick, and
// DefaultParallelism mirror spec §4.6/§6.5 defaults.
const (
	DefaultTickInterval    = 5 * time.Second
	DefaultLeaderTTL       = 15 * time.Second
	DefaultMaxRoomsPerTick = 50
	DefaultParallelism     = 10
	lockAcquireTimeout     = time.Second
)

// Broadcaster is the narrow surface the scheduler needs to fan out results
// of a timeout sweep; the concrete broadcaster package implements it.
type Broadcaster interface {
	BroadcastEvents(roomID string, events []model.GameEvent)
	BroadcastState(roomID string, state []byte)
}

// OutboxWriter is the narrow surface the scheduler needs to record a
// GameEnded side effect; the concrete outbox package implements it.
type OutboxWriter interface {
	EnqueueGameEnded(ctx context.Context, payload model.GameEndedPayload) error
}

// Scheduler owns the leader lock and the per-tick sweep.
type Scheduler struct {
	registry    *registry.Registry
	store       *roomstore.Store
	broadcaster Broadcaster
	outbox      OutboxWriter
	logger      *zap.Logger

	workerID        string
	tickInterval    time.Duration
	leaderTTL       time.Duration
	maxRoomsPerTick int64
	parallelism     int

	isLeader bool
}

// New builds a Scheduler with a freshly generated random workerID, which
// stays fixed for the Scheduler's lifetime and is its leader lock value
// (spec §5).
func New(reg *registry.Registry, store *roomstore.Store, broadcaster Broadcaster, outbox OutboxWriter, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		registry:        reg,
		store:           store,
		broadcaster:     broadcaster,
		outbox:          outbox,
		logger:          logger,
		workerID:        uuid.NewString(),
		tickInterval:    DefaultTickInterval,
		leaderTTL:       DefaultLeaderTTL,
		maxRoomsPerTick: DefaultMaxRoomsPerTick,
		parallelism:     DefaultParallelism,
	}
}

// WithTickInterval overrides the default tick cadence.
func (s *Scheduler) WithTickInterval(d time.Duration) *Scheduler { s.tickInterval = d; return s }

// WithMaxRoomsPerTick overrides the default per-tick sweep batch size.
func (s *Scheduler) WithMaxRoomsPerTick(n int64) *Scheduler { s.maxRoomsPerTick = n; return s }

// Run blocks, ticking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, engines map[string]gamemodule.ITurnBased) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, engines)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, engines map[string]gamemodule.ITurnBased) {
	if !s.maintainLeadership(ctx) {
		return
	}
	for gameType, engine := range engines {
		s.sweep(ctx, gameType, engine)
	}
}

func (s *Scheduler) maintainLeadership(ctx context.Context) bool {
	if s.isLeader {
		ok, err := s.registry.ExtendLeader(ctx, s.workerID, s.leaderTTL)
		if err != nil {
			s.logf("extend leader lock failed", err)
			s.isLeader = false
			return false
		}
		s.isLeader = ok
		return ok
	}
	ok, err := s.registry.TryAcquireLeader(ctx, s.workerID, s.leaderTTL)
	if err != nil {
		s.logf("acquire leader lock failed", err)
		return false
	}
	s.isLeader = ok
	return ok
}

func (s *Scheduler) sweep(ctx context.Context, gameType string, engine gamemodule.ITurnBased) {
	due, err := s.registry.GetRoomsDueForTimeout(ctx, gameType, time.Now(), s.maxRoomsPerTick)
	if err != nil {
		s.logf("read due index failed for "+gameType, err)
		return
	}
	if len(due) == 0 {
		return
	}

	sem := make(chan struct{}, s.parallelism)
	var wg sync.WaitGroup
	for _, roomID := range due {
		sem <- struct{}{}
		wg.Add(1)
		go func(roomID string) {
			defer wg.Done()
			defer func() { <-sem }()
			s.processDueRoom(ctx, gameType, roomID, engine)
		}(roomID)
	}
	wg.Wait()
}

func (s *Scheduler) processDueRoom(ctx context.Context, gameType, roomID string, engine gamemodule.ITurnBased) {
	token := s.workerID + ":" + roomID
	ok, err := s.store.TryLock(ctx, gameType, roomID, token, lockAcquireTimeout)
	if err != nil {
		s.logf("lock attempt failed for "+roomID, err)
		return
	}
	if !ok {
		return
	}
	defer s.store.Unlock(ctx, gameType, roomID, token)

	result, err := engine.CheckTimeoutsAsync(ctx, roomID)

	// The scheduler removes the stale due entry unconditionally (spec
	// §4.6, §9 open question b) regardless of what the engine returned.
	if unregErr := s.registry.UnregisterTurnTimeout(ctx, gameType, roomID); unregErr != nil {
		s.logf("unregister due entry failed for "+roomID, unregErr)
	}

	if err != nil {
		s.logf("CheckTimeoutsAsync failed for "+roomID, err)
		return
	}
	if result == nil || !result.Success {
		return
	}

	if result.NewState != nil {
		s.broadcaster.BroadcastState(roomID, result.NewState)
	}
	if len(result.Events) > 0 {
		s.broadcaster.BroadcastEvents(roomID, result.Events)
	}
	if err := s.registry.UpdateRoomActivity(ctx, gameType, roomID); err != nil {
		s.logf("update activity failed for "+roomID, err)
	}

	if result.GameEnded {
		meta, found, metaErr := fetchMeta(ctx, engine, roomID)
		payload := model.GameEndedPayload{
			RoomID:       roomID,
			GameType:     gameType,
			WinnerUserID: result.WinnerUserID,
			Ranking:      result.Ranking,
			EndedAt:      time.Now(),
		}
		if metaErr == nil && found {
			payload.Seats = meta.Seats
			payload.StartedAt = meta.CreatedAt
		}
		if s.outbox != nil {
			if err := s.outbox.EnqueueGameEnded(ctx, payload); err != nil {
				s.logf("enqueue GameEnded failed for "+roomID, err)
			}
		}
		return
	}

	// A new turn exists: reinsert the due entry at turnStartedAt + the
	// engine's timeout (spec §4.6 step c).
	meta, found, metaErr := fetchMeta(ctx, engine, roomID)
	if metaErr != nil || !found {
		return
	}
	deadline := meta.TurnStartedAt.Add(time.Duration(engine.TurnTimeoutSeconds()) * time.Second)
	if err := s.registry.RegisterTurnTimeout(ctx, gameType, roomID, deadline); err != nil {
		s.logf("reinsert due entry failed for "+roomID, err)
	}
}

func fetchMeta(ctx context.Context, engine gamemodule.ITurnBased, roomID string) (model.RoomMeta, bool, error) {
	resp, found, err := engine.GetStateAsync(ctx, roomID)
	return resp.Meta, found, err
}

func (s *Scheduler) logf(msg string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.Warn(msg, zap.Error(err))
}
