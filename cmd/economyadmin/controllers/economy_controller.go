package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/CoreLoopStudios-Org/GameService/cmd/economyadmin/services"
)

// EconomyController provides read-only HTTP handlers over the ledger and
// game archive, for operators and support tooling (spec §6.7).
type EconomyController struct {
	svc *services.EconomyService
}

func NewEconomyController(svc *services.EconomyService) *EconomyController {
	return &EconomyController{svc: svc}
}

// Balance handles GET /api/ledger/{userId}.
func (c *EconomyController) Balance(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	bal, ok, err := c.svc.Balance(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "no profile for "+userID, http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(bal)
}

// ArchivedGame handles GET /api/archive/{roomId}.
func (c *EconomyController) ArchivedGame(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	game, ok, err := c.svc.ArchivedGame(r.Context(), roomID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "no archived game for "+roomID, http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(game)
}
