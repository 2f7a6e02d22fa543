package routes

import (
	"github.com/gorilla/mux"

	"github.com/CoreLoopStudios-Org/GameService/cmd/economyadmin/controllers"
	"github.com/CoreLoopStudios-Org/GameService/cmd/economyadmin/middleware"
)

func Register(r *mux.Router, ec *controllers.EconomyController) {
	r.Use(middleware.Logger)
	r.HandleFunc("/api/ledger/{userId}", ec.Balance).Methods("GET")
	r.HandleFunc("/api/archive/{roomId}", ec.ArchivedGame).Methods("GET")
}
