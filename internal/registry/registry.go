// Package registry implements every global index the room runtime consults
// outside of a single room's own state/meta (spec §4.3, §6.2). The registry
// owns every index, lock token namespace, and short code; no other
// component mutates these keys (spec §3, "Ownership").
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CoreLoopStudios-Org/GameService/internal/roomid"
)

// Registry wraps a single Redis connection pool shared by every index,
// mirroring the teacher's preference for one pooled resource behind a thin
// struct (core/connection_pool.go) rather than a pool per concern.
type Registry struct {
	rdb           *redis.Client
	rateLimitScript *redis.Script
}

// New builds a Registry over rdb.
func New(rdb *redis.Client) *Registry {
	return &Registry{
		rdb: rdb,
		rateLimitScript: redis.NewScript(`
			local count = redis.call("INCR", KEYS[1])
			if count == 1 then
				redis.call("EXPIRE", KEYS[1], ARGV[1])
			end
			return count
		`),
	}
}

// ---- GameType -> RoomIds (creation time) ----

// RegisterRoom adds roomID to the gameType's creation-time index and the
// global roomId->gameType map. It is idempotent: re-registering an existing
// room keeps its first-seen creation score (ZADD NX).
func (r *Registry) RegisterRoom(ctx context.Context, gameType, roomID string) error {
	pipe := r.rdb.TxPipeline()
	pipe.ZAddNX(ctx, roomsByTypeKey(gameType), redis.Z{Score: float64(time.Now().Unix()), Member: roomID})
	pipe.HSet(ctx, globalRoomRegistryKey, roomID, gameType)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("registry: register room %s: %w", roomID, err)
	}
	return nil
}

// GetRoomIdsByGameType returns up to limit room ids for gameType, most
// recently created first, starting at offset (paged by rank).
func (r *Registry) GetRoomIdsByGameType(ctx context.Context, gameType string, offset, limit int64) ([]string, error) {
	return r.rdb.ZRevRange(ctx, roomsByTypeKey(gameType), offset, offset+limit-1).Result()
}

// GameTypeOf returns the game type a room was registered under.
func (r *Registry) GameTypeOf(ctx context.Context, roomID string) (string, bool, error) {
	v, err := r.rdb.HGet(ctx, globalRoomRegistryKey, roomID).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("registry: game type of %s: %w", roomID, err)
	}
	return v, true, nil
}

// ---- GameType -> RoomIds (activity) ----

// UpdateRoomActivity refreshes roomId's last-touched score to now.
func (r *Registry) UpdateRoomActivity(ctx context.Context, gameType, roomID string) error {
	err := r.rdb.ZAdd(ctx, activityByTypeKey(gameType), redis.Z{Score: float64(time.Now().Unix()), Member: roomID}).Err()
	if err != nil {
		return fmt.Errorf("registry: update activity %s: %w", roomID, err)
	}
	return nil
}

// LeastActiveRooms returns up to limit room ids for gameType with the
// lowest activity score (candidates for activity-sweep eviction).
func (r *Registry) LeastActiveRooms(ctx context.Context, gameType string, limit int64) ([]string, error) {
	return r.rdb.ZRange(ctx, activityByTypeKey(gameType), 0, limit-1).Result()
}

// ---- GameType -> RoomIds (turn due) ----

// RegisterTurnTimeout (re)inserts roomId into the due index at dueAt. Spec
// §4.6: reinserted on every turn change, by the engine for player-driven
// turns and by the scheduler after a timeout that starts a new turn.
func (r *Registry) RegisterTurnTimeout(ctx context.Context, gameType, roomID string, dueAt time.Time) error {
	err := r.rdb.ZAdd(ctx, timeoutsByTypeKey(gameType), redis.Z{Score: float64(dueAt.Unix()), Member: roomID}).Err()
	if err != nil {
		return fmt.Errorf("registry: register timeout %s: %w", roomID, err)
	}
	return nil
}

// UnregisterTurnTimeout removes roomId from the due index.
func (r *Registry) UnregisterTurnTimeout(ctx context.Context, gameType, roomID string) error {
	err := r.rdb.ZRem(ctx, timeoutsByTypeKey(gameType), roomID).Err()
	if err != nil {
		return fmt.Errorf("registry: unregister timeout %s: %w", roomID, err)
	}
	return nil
}

// GetRoomsDueForTimeout returns up to limit room ids whose due score is
// <= now, in score order — the only index the scheduler consults (spec
// §4.6). Rooms with equal scores come back in lexicographic room-id order,
// not insertion order.
func (r *Registry) GetRoomsDueForTimeout(ctx context.Context, gameType string, now time.Time, limit int64) ([]string, error) {
	res, err := r.rdb.ZRangeByScore(ctx, timeoutsByTypeKey(gameType), &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.Unix()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("registry: due rooms: %w", err)
	}
	return res, nil
}

// ---- Unregister (full teardown) ----

// Unregister removes roomId from every per-gameType index, the global
// registry map, and its short code, if any.
func (r *Registry) Unregister(ctx context.Context, gameType, roomID string) error {
	code, hasCode, err := r.GetShortCodeByRoomID(ctx, roomID)
	if err != nil {
		return err
	}

	pipe := r.rdb.TxPipeline()
	pipe.ZRem(ctx, roomsByTypeKey(gameType), roomID)
	pipe.ZRem(ctx, activityByTypeKey(gameType), roomID)
	pipe.ZRem(ctx, timeoutsByTypeKey(gameType), roomID)
	pipe.HDel(ctx, globalRoomRegistryKey, roomID)
	if hasCode {
		pipe.HDel(ctx, globalShortCodesKey, code)
		pipe.HDel(ctx, globalRoomShortCodesKey, roomID)
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("registry: unregister %s: %w", roomID, err)
	}
	return nil
}

// ---- Short codes ----

// CreateShortCode derives a short code for roomId from the monotonic
// counter and inserts it with a conditional HSETNX, retrying up to 10
// times on collision (spec §4.3, §3 RoomRef invariants).
func (r *Registry) CreateShortCode(ctx context.Context, roomID string) (string, error) {
	const maxAttempts = 10
	for i := 0; i < maxAttempts; i++ {
		counter, err := r.rdb.Incr(ctx, globalShortCodeCounterKey).Result()
		if err != nil {
			return "", fmt.Errorf("registry: short code counter: %w", err)
		}
		code := roomid.Encode(uint64(counter))
		ok, err := r.rdb.HSetNX(ctx, globalShortCodesKey, code, roomID).Result()
		if err != nil {
			return "", fmt.Errorf("registry: insert short code: %w", err)
		}
		if ok {
			if err := r.rdb.HSet(ctx, globalRoomShortCodesKey, roomID, code).Err(); err != nil {
				return "", fmt.Errorf("registry: record room short code: %w", err)
			}
			return code, nil
		}
	}
	return "", fmt.Errorf("registry: exhausted %d attempts generating a short code for %s", maxAttempts, roomID)
}

// GetRoomIDByShortCode resolves a short code to a room id.
func (r *Registry) GetRoomIDByShortCode(ctx context.Context, code string) (string, bool, error) {
	v, err := r.rdb.HGet(ctx, globalShortCodesKey, code).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("registry: short code lookup %s: %w", code, err)
	}
	return v, true, nil
}

// GetShortCodeByRoomID resolves a room id to its short code, if any.
func (r *Registry) GetShortCodeByRoomID(ctx context.Context, roomID string) (string, bool, error) {
	v, err := r.rdb.HGet(ctx, globalRoomShortCodesKey, roomID).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("registry: room short code lookup %s: %w", roomID, err)
	}
	return v, true, nil
}

// ---- UserId -> RoomId ----

// SetUserRoom records the single active room for userID.
func (r *Registry) SetUserRoom(ctx context.Context, userID, roomID string) error {
	return r.rdb.HSet(ctx, globalUserRoomsKey, userID, roomID).Err()
}

// GetUserRoom returns the active room for userID, if any.
func (r *Registry) GetUserRoom(ctx context.Context, userID string) (string, bool, error) {
	v, err := r.rdb.HGet(ctx, globalUserRoomsKey, userID).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("registry: user room %s: %w", userID, err)
	}
	return v, true, nil
}

// ClearUserRoom removes userID's active-room pointer.
func (r *Registry) ClearUserRoom(ctx context.Context, userID string) error {
	return r.rdb.HDel(ctx, globalUserRoomsKey, userID).Err()
}

// ---- Connections / online set ----

const connectionTTL = 120 * time.Second

// Heartbeat records a connection's liveness and marks the user online,
// pruning any stale entries for that user along the way.
func (r *Registry) Heartbeat(ctx context.Context, userID, connectionID string) error {
	now := float64(time.Now().Unix())
	ck := userConnectionsKey(userID)
	pipe := r.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, ck, "-inf", fmt.Sprintf("%d", time.Now().Add(-connectionTTL).Unix()))
	pipe.ZAdd(ctx, ck, redis.Z{Score: now, Member: connectionID})
	pipe.ZAdd(ctx, globalOnlineUsersKey, redis.Z{Score: now, Member: userID})
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("registry: heartbeat %s: %w", userID, err)
	}
	return nil
}

// RemoveConnection removes one connection for userID. It returns the
// number of non-expired connections remaining for that user.
func (r *Registry) RemoveConnection(ctx context.Context, userID, connectionID string) (int64, error) {
	ck := userConnectionsKey(userID)
	if err := r.rdb.ZRem(ctx, ck, connectionID).Err(); err != nil {
		return 0, fmt.Errorf("registry: remove connection %s: %w", connectionID, err)
	}
	return r.ConnectionCount(ctx, userID)
}

// ConnectionCount prunes expired entries then returns the live connection
// count for userID.
func (r *Registry) ConnectionCount(ctx context.Context, userID string) (int64, error) {
	ck := userConnectionsKey(userID)
	cutoff := fmt.Sprintf("%d", time.Now().Add(-connectionTTL).Unix())
	if err := r.rdb.ZRemRangeByScore(ctx, ck, "-inf", cutoff).Err(); err != nil {
		return 0, fmt.Errorf("registry: prune connections %s: %w", userID, err)
	}
	return r.rdb.ZCard(ctx, ck).Result()
}

// IsOnline reports whether userID has a non-expired heartbeat, pruning the
// online set lazily as it goes (testable property 9).
func (r *Registry) IsOnline(ctx context.Context, userID string) (bool, error) {
	cutoff := fmt.Sprintf("%d", time.Now().Add(-connectionTTL).Unix())
	if err := r.rdb.ZRemRangeByScore(ctx, globalOnlineUsersKey, "-inf", cutoff).Err(); err != nil {
		return false, fmt.Errorf("registry: prune online set: %w", err)
	}
	score, err := r.rdb.ZScore(ctx, globalOnlineUsersKey, userID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("registry: online lookup %s: %w", userID, err)
	}
	return score > 0, nil
}

// ---- Disconnected players ----

// CreateDisconnectTicket records a reclaim window for userID in roomID.
func (r *Registry) CreateDisconnectTicket(ctx context.Context, userID, roomID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt) + 5*time.Minute
	pipe := r.rdb.TxPipeline()
	pipe.ZAdd(ctx, globalDisconnectedIndexKey, redis.Z{Score: float64(expiresAt.Unix()), Member: userID})
	pipe.Set(ctx, disconnectedPlayerKey(userID), roomID, ttl)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("registry: create disconnect ticket %s: %w", userID, err)
	}
	return nil
}

// GetDisconnectTicket returns the room userID may reclaim, if a ticket is
// still outstanding.
func (r *Registry) GetDisconnectTicket(ctx context.Context, userID string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, disconnectedPlayerKey(userID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("registry: disconnect ticket %s: %w", userID, err)
	}
	return v, true, nil
}

// CancelDisconnectTicket clears an outstanding ticket (used on reconnect).
func (r *Registry) CancelDisconnectTicket(ctx context.Context, userID string) error {
	pipe := r.rdb.TxPipeline()
	pipe.ZRem(ctx, globalDisconnectedIndexKey, userID)
	pipe.Del(ctx, disconnectedPlayerKey(userID))
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("registry: cancel disconnect ticket %s: %w", userID, err)
	}
	return nil
}

// GetExpiredDisconnectTickets returns up to limit userIds whose grace
// period has elapsed, for the cleanup worker (spec §4.7).
func (r *Registry) GetExpiredDisconnectTickets(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	res, err := r.rdb.ZRangeByScore(ctx, globalDisconnectedIndexKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.Unix()),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("registry: expired disconnect tickets: %w", err)
	}
	return res, nil
}

// ---- Rate limiting ----

// CheckRateLimit atomically increments userID's bucket (setting a TTL of
// window on first touch via a single round trip) and reports whether the
// count is still within max.
func (r *Registry) CheckRateLimit(ctx context.Context, userID string, max int, window time.Duration) (bool, error) {
	count, err := r.rateLimitScript.Run(ctx, r.rdb, []string{rateLimitKey(userID)}, int(window.Seconds())).Int64()
	if err != nil {
		return false, fmt.Errorf("registry: rate limit %s: %w", userID, err)
	}
	return count <= int64(max), nil
}

// ---- Leader lock ----

// TryAcquireLeader attempts to become (or remain) the gameloop leader.
func (r *Registry) TryAcquireLeader(ctx context.Context, workerID string, ttl time.Duration) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, leaderKey, workerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("registry: acquire leader: %w", err)
	}
	return ok, nil
}

// ExtendLeader refreshes the leader TTL iff workerID still holds it.
func (r *Registry) ExtendLeader(ctx context.Context, workerID string, ttl time.Duration) (bool, error) {
	current, err := r.rdb.Get(ctx, leaderKey).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("registry: extend leader: %w", err)
	}
	if current != workerID {
		return false, nil
	}
	if err := r.rdb.Expire(ctx, leaderKey, ttl).Err(); err != nil {
		return false, fmt.Errorf("registry: extend leader ttl: %w", err)
	}
	return true, nil
}
