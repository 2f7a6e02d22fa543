package config

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/CoreLoopStudios-Org/GameService/pkg/utils"
)

// ServerConfig is economyadmin's own minimal configuration: a Postgres DSN
// and the port to serve on. It deliberately doesn't share internal/config's
// viper-layered Config, since this read-only console has nothing to do with
// game-loop/session/dispatcher tuning.
type ServerConfig struct {
	Port string
	DSN  string
}

var AppConfig ServerConfig

// Load reads cmd/economyadmin/.env if present, then falls back to
// environment variables / hardcoded defaults.
func Load() error {
	if err := godotenv.Load("cmd/economyadmin/.env"); err != nil && !os.IsNotExist(err) {
		return utils.Wrap(err, "loading env")
	}
	AppConfig = ServerConfig{
		Port: utils.EnvOrDefault("ECONOMYADMIN_PORT", "8082"),
		DSN:  utils.EnvOrDefault("ECONOMYADMIN_DSN", "postgres://localhost:5432/roomservice?sslmode=disable"),
	}
	return nil
}
