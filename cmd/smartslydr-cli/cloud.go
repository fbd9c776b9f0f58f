package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joshp123/smartslydr/plugins/smartslydr"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the configured SmartSlydr credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			cfg, err := cloudConfig()
			if err != nil {
				return err
			}
			client, err := smartslydr.NewClient(cfg, smartslydr.NewTokenStore(cfg.Username, cfg.Password))
			if err != nil {
				return err
			}
			ok := client.Check(ctx)
			if rootJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{"username": cfg.Username, "ok": ok})
			}
			if !ok {
				return fmt.Errorf("credentials for %s were rejected or the cloud is unreachable", cfg.Username)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s\n", cfg.Username)
			return nil
		},
	}
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "devices",
		Aliases: []string{"list"},
		Short:   "List devices on the account",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			session, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer session.Close()

			devices := session.Coordinator().Devices()
			ids := devices.IDs()
			if rootJSON {
				list := make([]smartslydr.Device, 0, len(ids))
				for _, id := range ids {
					list = append(list, devices[id])
				}
				return printJSON(cmd.OutOrStdout(), list)
			}
			rows := [][]string{{"DEVICE", "ID", "ROOM", "POSITION", "ONLINE", "WIFI", "TEMP", "HUMIDITY"}}
			for _, id := range ids {
				dev := devices[id]
				rows = append(rows, []string{
					dev.Name,
					id,
					dev.RoomName,
					strconv.Itoa(dev.Position) + "%",
					strconv.FormatBool(dev.Online()),
					strconv.Itoa(dev.WifiSignal),
					strconv.Itoa(dev.Temperature),
					strconv.Itoa(dev.Humidity) + "%",
				})
			}
			return printTable(cmd.OutOrStdout(), rows)
		},
	}
}

func newOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <device>",
		Short: "Fully open a door",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return moveCover(cmd, args[0], 100)
		},
	}
}

func newCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <device>",
		Short: "Fully close a door",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return moveCover(cmd, args[0], 0)
		},
	}
}

func newSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <device> <position>",
		Short: "Move a door to a position between 0 (closed) and 100 (open)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			position, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid position %q", args[1])
			}
			return moveCover(cmd, args[0], position)
		},
	}
}

func moveCover(cmd *cobra.Command, input string, position int) error {
	if position < 0 || position > 100 {
		return fmt.Errorf("%w: %d", smartslydr.ErrInvalidPosition, position)
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	session, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	id, err := resolveDevice(session, input)
	if err != nil {
		return err
	}
	cover, err := session.Cover(id)
	if err != nil {
		return err
	}
	if err := cover.SetPosition(ctx, position); err != nil {
		return err
	}
	if rootJSON {
		return printJSON(cmd.OutOrStdout(), map[string]any{"device_id": id, "name": cover.Name(), "position": position, "status": "ok"})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ok: %s -> %d%%\n", cover.Name(), position)
	return nil
}

func newPositionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "position <device>",
		Short: "Ask the cloud for a door's current position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			session, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer session.Close()

			id, err := resolveDevice(session, args[0])
			if err != nil {
				return err
			}
			position, ok := session.Client().CurrentPosition(ctx, id)
			if !ok {
				return errors.New("position query failed")
			}
			if rootJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{"device_id": id, "position": position})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d%%\n", id, position)
			return nil
		},
	}
}
