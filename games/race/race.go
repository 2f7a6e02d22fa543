package race

import "github.com/CoreLoopStudios-Org/GameService/internal/gamemodule"

// Register installs the race module's descriptor into the process-wide
// table. Called explicitly from each binary's wiring (cmd/roomserverd,
// cmd/roomctl), not from an init() blank-import so Deps can be threaded in
// explicitly.
func Register() {
	gamemodule.Register(gamemodule.Descriptor{
		GameType: GameType,
		BuildEngine: func(deps gamemodule.Deps) gamemodule.Engine {
			return NewEngine(deps)
		},
		BuildRoomService: func(deps gamemodule.Deps) gamemodule.RoomService {
			return NewRoomService(deps)
		},
	})
}
