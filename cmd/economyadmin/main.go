// Command economyadmin is a read-only console over the ledger and the
// archived-game table: support and operations staff look up a player's
// balance or a finished room's payout record without touching the room
// runtime's write path (spec §6.7).
package main

import (
	"net/http"

	"github.com/gorilla/mux"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/CoreLoopStudios-Org/GameService/cmd/economyadmin/config"
	"github.com/CoreLoopStudios-Org/GameService/cmd/economyadmin/controllers"
	"github.com/CoreLoopStudios-Org/GameService/cmd/economyadmin/routes"
	"github.com/CoreLoopStudios-Org/GameService/cmd/economyadmin/services"
	"github.com/CoreLoopStudios-Org/GameService/internal/economy"
)

func main() {
	if err := config.Load(); err != nil {
		logrus.Fatal(err)
	}

	db, err := sqlx.Connect("pgx", config.AppConfig.DSN)
	if err != nil {
		logrus.Fatalf("connect postgres: %v", err)
	}
	defer db.Close()

	ledger := economy.New(db)
	svc := services.NewService(ledger)
	ctrl := controllers.NewEconomyController(svc)

	r := mux.NewRouter()
	routes.Register(r, ctrl)

	logrus.Infof("economyadmin listening on %s", config.AppConfig.Port)
	if err := http.ListenAndServe(":"+config.AppConfig.Port, r); err != nil {
		logrus.Fatal(err)
	}
}
