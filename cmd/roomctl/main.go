// Command roomctl is an operator CLI against a running room runtime's
// Redis: it inspects rooms, lists the turn-timeout due queue, and can force
// a stuck room closed. It talks to the registry/store directly rather than
// through the dispatcher, so it is an out-of-band administrative tool, not
// a player-facing client.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/CoreLoopStudios-Org/GameService/games/race"
	"github.com/CoreLoopStudios-Org/GameService/internal/gamemodule"
	"github.com/CoreLoopStudios-Org/GameService/internal/model"
	"github.com/CoreLoopStudios-Org/GameService/internal/registry"
	"github.com/CoreLoopStudios-Org/GameService/internal/roomstore"
	"github.com/CoreLoopStudios-Org/GameService/pkg/utils"
)

// noopEconomy satisfies gamemodule.Economy for admin read paths, which never
// reserve or refund an entry fee.
type noopEconomy struct{}

func (noopEconomy) ReserveEntryFee(ctx context.Context, userID string, fee int64, roomID string) (model.Reservation, error) {
	return model.Reservation{}, nil
}
func (noopEconomy) RefundEntryFee(ctx context.Context, reservation model.Reservation) error {
	return nil
}

func main() {
	race.Register()

	var redisAddr string
	root := &cobra.Command{Use: "roomctl"}
	root.PersistentFlags().StringVar(&redisAddr, "redis-addr", utils.EnvOrDefault("ROOMSERVICE_REDIS_ADDR", "127.0.0.1:6379"), "redis address")

	root.AddCommand(inspectCmd(&redisAddr))
	root.AddCommand(listCmd(&redisAddr))
	root.AddCommand(dueCmd(&redisAddr))
	root.AddCommand(forceEndCmd(&redisAddr))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func connect(redisAddr string) (*registry.Registry, gamemodule.Deps) {
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	reg := registry.New(rdb)
	store := roomstore.New(rdb, reg)
	return reg, gamemodule.Deps{Store: store, Registry: reg, Economy: noopEconomy{}, Redis: rdb}
}

func inspectCmd(redisAddr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [roomId]",
		Short: "print a room's metadata and current state as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			reg, deps := connect(*redisAddr)
			roomID := args[0]
			gameType, ok, err := reg.GameTypeOf(ctx, roomID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no room registered for %s", roomID)
			}
			descriptor, ok := gamemodule.Lookup(gameType)
			if !ok {
				return fmt.Errorf("unknown gameType %s", gameType)
			}
			state, ok, err := descriptor.BuildEngine(deps).GetStateAsync(ctx, roomID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("room %s has no state", roomID)
			}
			out := map[string]any{"gameType": gameType, "meta": state.Meta, "legalMoves": state.LegalMoves}
			var decoded any
			if err := json.Unmarshal(state.State, &decoded); err == nil {
				out["state"] = decoded
			}
			return printJSON(out)
		},
	}
}

func listCmd(redisAddr *string) *cobra.Command {
	var gameType string
	var limit int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list room ids registered for a game type",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, _ := connect(*redisAddr)
			ids, err := reg.GetRoomIdsByGameType(context.Background(), gameType, 0, limit)
			if err != nil {
				return err
			}
			return printJSON(ids)
		},
	}
	cmd.Flags().StringVar(&gameType, "game-type", "race", "game type to list")
	cmd.Flags().Int64Var(&limit, "limit", 100, "max rooms to list")
	return cmd
}

func dueCmd(redisAddr *string) *cobra.Command {
	var gameType string
	var limit int64
	cmd := &cobra.Command{
		Use:   "due",
		Short: "list rooms currently due for a turn-timeout sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, _ := connect(*redisAddr)
			ids, err := reg.GetRoomsDueForTimeout(context.Background(), gameType, time.Now(), limit)
			if err != nil {
				return err
			}
			return printJSON(ids)
		},
	}
	cmd.Flags().StringVar(&gameType, "game-type", "race", "game type to check")
	cmd.Flags().Int64Var(&limit, "limit", 100, "max rooms to list")
	return cmd
}

func forceEndCmd(redisAddr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "force-end [roomId]",
		Short: "delete a room through its game module and remove it from every index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			reg, deps := connect(*redisAddr)
			roomID := args[0]
			gameType, ok, err := reg.GameTypeOf(ctx, roomID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no room registered for %s", roomID)
			}
			descriptor, ok := gamemodule.Lookup(gameType)
			if !ok {
				return fmt.Errorf("unknown gameType %s", gameType)
			}
			if err := descriptor.BuildRoomService(deps).DeleteRoom(ctx, roomID); err != nil {
				return err
			}
			fmt.Printf("room %s force-ended\n", roomID)
			return nil
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
