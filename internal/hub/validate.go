package hub

import (
	"regexp"

	"github.com/CoreLoopStudios-Org/GameService/internal/apperr"
)

// Input patterns mirror spec §6.4 exactly: reject before any state
// mutation rather than let a malformed value reach the registry or store.
var (
	roomIDPattern       = regexp.MustCompile(`^[0-9a-fA-F]{1,50}$`)
	gameTypePattern     = regexp.MustCompile(`^[a-zA-Z0-9]{1,50}$`)
	templateNamePattern = regexp.MustCompile(`^[a-zA-Z0-9 _()\-.,]{1,100}$`)
)

const (
	maxActionLength  = 100
	maxChatTextBytes = 2000
)

func validateRoomID(roomID string) error {
	if !roomIDPattern.MatchString(roomID) {
		return apperr.New(apperr.CodeInvalidInput, "invalid roomId")
	}
	return nil
}

func validateGameType(gameType string) error {
	if !gameTypePattern.MatchString(gameType) {
		return apperr.New(apperr.CodeInvalidInput, "invalid gameType")
	}
	return nil
}

func validateTemplateName(name string) error {
	if !templateNamePattern.MatchString(name) {
		return apperr.New(apperr.CodeInvalidInput, "invalid templateName")
	}
	return nil
}

func validateAction(action string) error {
	if action == "" || len(action) > maxActionLength {
		return apperr.New(apperr.CodeInvalidInput, "invalid action")
	}
	return nil
}

func validateChatText(text string) error {
	if len(text) == 0 || len(text) > maxChatTextBytes {
		return apperr.New(apperr.CodeInvalidInput, "invalid chat message length")
	}
	return nil
}
