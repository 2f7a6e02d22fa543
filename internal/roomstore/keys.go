package roomstore

import "fmt"

// Hash-tagged key helpers (spec §6.2). The {roomId} tag keeps all of a
// room's keys on the same cluster slot.
func stateKey(gameType, roomID string) string {
	return fmt.Sprintf("game:%s:{%s}:state", gameType, roomID)
}

func metaKey(gameType, roomID string) string {
	return fmt.Sprintf("game:%s:{%s}:meta", gameType, roomID)
}

func lockKey(gameType, roomID string) string {
	return fmt.Sprintf("game:%s:{%s}:lock", gameType, roomID)
}
