package registry

import "fmt"

func roomsByTypeKey(gameType string) string    { return "index:rooms:" + gameType }
func activityByTypeKey(gameType string) string { return "index:activity:" + gameType }
func timeoutsByTypeKey(gameType string) string { return "index:timeouts:" + gameType }

const (
	globalRoomRegistryKey      = "global:room_registry"
	globalShortCodesKey        = "global:short_codes"
	globalRoomShortCodesKey    = "global:room_short_codes"
	globalShortCodeCounterKey  = "global:short_code_counter"
	globalUserRoomsKey         = "global:user_rooms"
	globalOnlineUsersKey       = "global:online_users"
	globalDisconnectedIndexKey = "global:disconnected_players_index"
	leaderKey                  = "leader:gameloop"
)

func userConnectionsKey(userID string) string   { return "global:user_connections:" + userID }
func disconnectedPlayerKey(userID string) string { return "global:disconnected_players:" + userID }
func rateLimitKey(userID string) string          { return fmt.Sprintf("ratelimit:%s", userID) }
