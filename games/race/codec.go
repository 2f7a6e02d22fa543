package race

import "github.com/CoreLoopStudios-Org/GameService/internal/codec"

func encodedState(s State) ([]byte, error) {
	return codec.Encode(s, codec.CurrentVersion)
}
