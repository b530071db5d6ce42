package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/movewan/merryhere-sub000/internal/config"
	"github.com/movewan/merryhere-sub000/internal/oplog"
	"github.com/movewan/merryhere-sub000/pkg/booking"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	flagRoomID        = "id"
	flagRoomName      = "name"
	flagRoomCapacity  = "capacity"
	flagRoomPoints    = "points"
	flagRoomMin       = "min-minutes"
	flagRoomMax       = "max-minutes"
	flagRoomInactive  = "inactive"
	flagAccountID     = "account"
	flagAxis          = "axis"
	flagTarget        = "target"
	flagDescription   = "description"
	adminCommandLimit = 30 * time.Second
)

// adminSession is the manager and query used by one administrative command.
type adminSession struct {
	manager *booking.Manager
	query   *booking.Query
	close   func()
}

func openAdminSession(ctx context.Context, cfg *config.Config) (*adminSession, error) {
	opened, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := opened.migrate(ctx); err != nil {
		opened.close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger, err := zap.NewProduction()
	if err != nil {
		opened.close()
		return nil, fmt.Errorf("logger init: %w", err)
	}
	location, err := cfg.Location()
	if err != nil {
		opened.close()
		return nil, err
	}
	manager, err := booking.NewManager(opened.store, func() int64 { return time.Now().UTC().Unix() },
		booking.WithLocation(location),
		booking.WithOperationLogger(oplog.NewZapLogger(logger)),
	)
	if err != nil {
		opened.close()
		return nil, err
	}
	query, err := booking.NewQuery(opened.store)
	if err != nil {
		opened.close()
		return nil, err
	}
	return &adminSession{
		manager: manager,
		query:   query,
		close: func() {
			_ = logger.Sync()
			opened.close()
		},
	}, nil
}

func newMigrateCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), adminCommandLimit)
			defer cancel()
			opened, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer opened.close()
			if err := opened.migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s, %s)\n", opened.driver, cfg.StoreBackend)
			return nil
		},
	}
}

func newRoomsCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "Manage bookable rooms",
	}

	put := &cobra.Command{
		Use:   "put",
		Short: "Create or update a room",
		RunE: func(cmd *cobra.Command, args []string) error {
			room, err := roomFromFlags(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), adminCommandLimit)
			defer cancel()
			session, err := openAdminSession(ctx, cfg)
			if err != nil {
				return err
			}
			defer session.close()
			if err := session.manager.PutRoom(ctx, room); err != nil {
				return err
			}
			return printRooms(cmd.OutOrStdout(), []booking.Room{room})
		},
	}
	put.Flags().String(flagRoomID, "", "room id")
	put.Flags().String(flagRoomName, "", "display name")
	put.Flags().Int(flagRoomCapacity, 1, "seats")
	put.Flags().Int64(flagRoomPoints, 1, "points per 30 minutes")
	put.Flags().Int(flagRoomMin, 30, "minimum booking minutes")
	put.Flags().Int(flagRoomMax, 240, "maximum booking minutes")
	put.Flags().Bool(flagRoomInactive, false, "hide the room from new bookings")
	_ = put.MarkFlagRequired(flagRoomID)

	list := &cobra.Command{
		Use:   "list",
		Short: "List every room",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), adminCommandLimit)
			defer cancel()
			session, err := openAdminSession(ctx, cfg)
			if err != nil {
				return err
			}
			defer session.close()
			rooms, err := session.query.ListRooms(ctx)
			if err != nil {
				return err
			}
			return printRooms(cmd.OutOrStdout(), rooms)
		},
	}

	cmd.AddCommand(put, list)
	return cmd
}

func newPointsCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "points",
		Short: "Administer member point balances",
	}
	adjust := &cobra.Command{
		Use:   "adjust",
		Short: "Set a balance to a target value through an adjustment transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			accountValue, _ := cmd.Flags().GetString(flagAccountID)
			axisValue, _ := cmd.Flags().GetString(flagAxis)
			targetValue, _ := cmd.Flags().GetInt64(flagTarget)
			description, _ := cmd.Flags().GetString(flagDescription)
			accountID, err := booking.NewAccountID(accountValue)
			if err != nil {
				return err
			}
			axis, err := booking.ParseAxis(axisValue)
			if err != nil {
				return err
			}
			target, err := booking.NewPoints(targetValue)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), adminCommandLimit)
			defer cancel()
			session, err := openAdminSession(ctx, cfg)
			if err != nil {
				return err
			}
			defer session.close()
			transaction, err := session.manager.AdjustBalance(ctx, accountID, axis, target, description)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %+d -> %d (%s)\n",
				transaction.AccountID(), transaction.Axis(), transaction.Delta().Int64(),
				transaction.BalanceAfter().Int64(), transaction.ID())
			return nil
		},
	}
	adjust.Flags().String(flagAccountID, "", "account id")
	adjust.Flags().String(flagAxis, booking.AxisPersonal.String(), "personal or team")
	adjust.Flags().Int64(flagTarget, 0, "balance after the adjustment")
	adjust.Flags().String(flagDescription, "", "reason recorded on the transaction")
	_ = adjust.MarkFlagRequired(flagAccountID)
	_ = adjust.MarkFlagRequired(flagTarget)

	cmd.AddCommand(adjust)
	return cmd
}

func roomFromFlags(cmd *cobra.Command) (booking.Room, error) {
	flags := cmd.Flags()
	idValue, _ := flags.GetString(flagRoomID)
	name, _ := flags.GetString(flagRoomName)
	capacity, _ := flags.GetInt(flagRoomCapacity)
	pointsValue, _ := flags.GetInt64(flagRoomPoints)
	minMinutes, _ := flags.GetInt(flagRoomMin)
	maxMinutes, _ := flags.GetInt(flagRoomMax)
	inactive, _ := flags.GetBool(flagRoomInactive)

	roomID, err := booking.NewRoomID(idValue)
	if err != nil {
		return booking.Room{}, err
	}
	points, err := booking.NewPositivePoints(pointsValue)
	if err != nil {
		return booking.Room{}, err
	}
	if name == "" {
		name = roomID.String()
	}
	return booking.NewRoom(booking.RoomFields{
		ID:                 roomID,
		Name:               name,
		Capacity:           capacity,
		PointsPer30Min:     points,
		MinDurationMinutes: minMinutes,
		MaxDurationMinutes: maxMinutes,
		Active:             !inactive,
	})
}

func printRooms(out io.Writer, rooms []booking.Room) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tNAME\tCAPACITY\tPOINTS/30M\tMIN\tMAX\tACTIVE")
	for _, room := range rooms {
		fmt.Fprintf(writer, "%s\t%s\t%d\t%d\t%d\t%d\t%t\n",
			room.ID(), room.Name(), room.Capacity(), room.PointsPer30Min().Int64(),
			room.MinDurationMinutes(), room.MaxDurationMinutes(), room.Active())
	}
	return writer.Flush()
}
