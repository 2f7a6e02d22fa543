// Package roomstore implements persistence and per-room distributed locking
// against Redis (spec §4.2). It owns GameState<T> bytes and RoomMeta
// exclusively — no other component mutates these keys (spec §3,
// "Ownership").
package roomstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CoreLoopStudios-Org/GameService/internal/apperr"
	"github.com/CoreLoopStudios-Org/GameService/internal/codec"
	"github.com/CoreLoopStudios-Org/GameService/internal/model"
)

// Indexer is the subset of the room registry that the store must update on
// every successful Save/Delete (spec §4.2: "Save... MUST also register the
// room in the registry indexes"). Kept narrow and one-directional so
// roomstore never needs to import the registry package's Redis plumbing.
type Indexer interface {
	RegisterRoom(ctx context.Context, gameType, roomID string) error
	UpdateRoomActivity(ctx context.Context, gameType, roomID string) error
	Unregister(ctx context.Context, gameType, roomID string) error
}

// unlockScript is the atomic compare-and-delete: never release a lock this
// worker does not hold (spec §6.2, testable property 3).
const unlockScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`

// Store persists room state/meta and brokers the per-room lock.
type Store struct {
	rdb     *redis.Client
	indexer Indexer
	unlock  *redis.Script
}

// New builds a Store over rdb. indexer may be nil in tests that don't care
// about index side effects.
func New(rdb *redis.Client, indexer Indexer) *Store {
	return &Store{rdb: rdb, indexer: indexer, unlock: redis.NewScript(unlockScript)}
}

// TryLock attempts to acquire roomId's distributed lock for ttl, returning
// true iff this worker now holds it.
func (s *Store) TryLock(ctx context.Context, gameType, roomID, token string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, lockKey(gameType, roomID), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("roomstore: lock %s: %w", roomID, err)
	}
	return ok, nil
}

// Unlock releases roomId's lock iff token still owns it (spec §6.2 script).
func (s *Store) Unlock(ctx context.Context, gameType, roomID, token string) error {
	n, err := s.unlock.Run(ctx, s.rdb, []string{lockKey(gameType, roomID)}, token).Int()
	if err != nil {
		return fmt.Errorf("roomstore: unlock %s: %w", roomID, err)
	}
	if n == 0 {
		return apperr.New(apperr.CodeLockContention, "unlock: token does not own lock (or already expired)")
	}
	return nil
}

// Save persists state and meta in one pipelined write, then updates the
// registry's activity index.
func Save[T any](ctx context.Context, s *Store, roomID string, state T, meta model.RoomMeta, version byte) error {
	blob, err := codec.Encode(state, version)
	if err != nil {
		return fmt.Errorf("roomstore: encode state: %w", err)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("roomstore: encode meta: %w", err)
	}

	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, stateKey(meta.GameType, roomID), blob, 0)
		p.Set(ctx, metaKey(meta.GameType, roomID), metaJSON, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("roomstore: save %s: %w", roomID, err)
	}

	if s.indexer != nil {
		if err := s.indexer.RegisterRoom(ctx, meta.GameType, roomID); err != nil {
			return fmt.Errorf("roomstore: register %s: %w", roomID, err)
		}
		if err := s.indexer.UpdateRoomActivity(ctx, meta.GameType, roomID); err != nil {
			return fmt.Errorf("roomstore: activity %s: %w", roomID, err)
		}
	}
	return nil
}

// Load reads and decodes a room's state and meta. A missing room returns
// (zero, zero, false, nil). A decode failure is logged by the caller (this
// function just reports it) and surfaces as absent, per spec §4.2 failure
// semantics, so callers can decide to recreate.
func Load[T any](ctx context.Context, s *Store, gameType, roomID string) (T, model.RoomMeta, bool, error) {
	var zeroState T
	var meta model.RoomMeta

	pipe := s.rdb.Pipeline()
	stateCmd := pipe.Get(ctx, stateKey(gameType, roomID))
	metaCmd := pipe.Get(ctx, metaKey(gameType, roomID))
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return zeroState, meta, false, fmt.Errorf("roomstore: load %s: %w", roomID, err)
	}

	stateBlob, stateErr := stateCmd.Bytes()
	metaBlob, metaErr := metaCmd.Bytes()
	if errors.Is(stateErr, redis.Nil) || errors.Is(metaErr, redis.Nil) {
		// Partial write (one key present, the other missing) is treated as
		// corruption, not absence — spec §4.2.
		if errors.Is(stateErr, redis.Nil) && errors.Is(metaErr, redis.Nil) {
			return zeroState, meta, false, nil
		}
		return zeroState, meta, false, apperr.New(apperr.CodeStateCorruptedOrIncompatible, "partial write: state/meta out of sync for "+roomID)
	}
	if stateErr != nil {
		return zeroState, meta, false, fmt.Errorf("roomstore: read state %s: %w", roomID, stateErr)
	}
	if metaErr != nil {
		return zeroState, meta, false, fmt.Errorf("roomstore: read meta %s: %w", roomID, metaErr)
	}

	state, err := codec.Decode[T](stateBlob)
	if err != nil {
		return zeroState, meta, false, apperr.Wrap(apperr.CodeStateCorruptedOrIncompatible, roomID, err)
	}
	if err := json.Unmarshal(metaBlob, &meta); err != nil {
		return zeroState, meta, false, apperr.Wrap(apperr.CodeStateCorruptedOrIncompatible, roomID, err)
	}
	return state, meta, true, nil
}

// LoadMany batch-reads state for many rooms in one round trip (spec §4.2);
// missing or undecodable entries are simply omitted from the result.
func LoadMany[T any](ctx context.Context, s *Store, gameType string, roomIDs []string) (map[string]T, error) {
	if len(roomIDs) == 0 {
		return map[string]T{}, nil
	}
	keys := make([]string, len(roomIDs))
	for i, id := range roomIDs {
		keys[i] = stateKey(gameType, id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("roomstore: load many state: %w", err)
	}
	out := make(map[string]T, len(roomIDs))
	for i, v := range vals {
		if v == nil {
			continue
		}
		str, ok := v.(string)
		if !ok {
			continue
		}
		state, err := codec.Decode[T]([]byte(str))
		if err != nil {
			continue
		}
		out[roomIDs[i]] = state
	}
	return out, nil
}

// LoadMetaMany batch-reads meta for many rooms; missing keys are simply
// omitted from the result.
func (s *Store) LoadMetaMany(ctx context.Context, gameType string, roomIDs []string) (map[string]model.RoomMeta, error) {
	if len(roomIDs) == 0 {
		return map[string]model.RoomMeta{}, nil
	}
	keys := make([]string, len(roomIDs))
	for i, id := range roomIDs {
		keys[i] = metaKey(gameType, id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("roomstore: load many meta: %w", err)
	}
	out := make(map[string]model.RoomMeta, len(roomIDs))
	for i, v := range vals {
		if v == nil {
			continue
		}
		str, ok := v.(string)
		if !ok {
			continue
		}
		var m model.RoomMeta
		if err := json.Unmarshal([]byte(str), &m); err != nil {
			continue
		}
		out[roomIDs[i]] = m
	}
	return out, nil
}

// Delete removes state, meta, and lock, then unregisters roomId from every
// index.
func (s *Store) Delete(ctx context.Context, gameType, roomID string) error {
	_, err := s.rdb.Del(ctx,
		stateKey(gameType, roomID),
		metaKey(gameType, roomID),
		lockKey(gameType, roomID),
	).Result()
	if err != nil {
		return fmt.Errorf("roomstore: delete %s: %w", roomID, err)
	}
	if s.indexer != nil {
		if err := s.indexer.Unregister(ctx, gameType, roomID); err != nil {
			return fmt.Errorf("roomstore: unregister %s: %w", roomID, err)
		}
	}
	return nil
}
