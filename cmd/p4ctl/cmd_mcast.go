package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"p4ctl/config"
	"p4ctl/control"
)

func newMcastCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcast",
		Short: "Manage multicast groups",
	}
	cmd.AddCommand(newMcastSetCmd(), newMcastClearCmd(), newMcastShowCmd())
	return cmd
}

func newMcastSetCmd() *cobra.Command {
	var rid uint32
	cmd := &cobra.Command{
		Use:   "set [group port...]",
		Short: "Replace the members of a multicast group",
		Long: `Replace the members of a multicast group, creating it when needed.
Without arguments every group listed under multicast in the config file is applied.

  p4ctl mcast set 1 1 2 3
  p4ctl -c p4ctl.yaml mcast set`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return fmt.Errorf("give a group id followed by at least one port")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var groups []config.MulticastGroup
			if len(args) > 0 {
				nums, err := parseUint32s(args)
				if err != nil {
					return err
				}
				groups = append(groups, config.MulticastGroup{ID: nums[0], RID: rid, Ports: nums[1:]})
			}
			return withController(cmd, false, func(ctx context.Context, cfg *config.Config, sc *control.Controller) error {
				if len(groups) == 0 {
					groups = cfg.Multicast
				}
				if len(groups) == 0 {
					return fmt.Errorf("no multicast groups given or configured")
				}
				for _, g := range groups {
					if err := sc.Multicast().SetGroupMembers(ctx, g.ID, g.RID, g.Ports); err != nil {
						return err
					}
					fmt.Printf("group %s: %d ports\n", green(strconv.FormatUint(uint64(g.ID), 10)), len(g.Ports))
				}
				return nil
			})
		},
	}
	cmd.Flags().Uint32Var(&rid, "rid", 0, "replication id of the replicas")
	return cmd
}

func newMcastClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every multicast group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd, false, func(ctx context.Context, _ *config.Config, sc *control.Controller) error {
				return sc.Multicast().ClearAll(ctx)
			})
		},
	}
}

func newMcastShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the multicast groups on the device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd, false, func(ctx context.Context, _ *config.Config, sc *control.Controller) error {
				groups, err := sc.Multicast().Groups(ctx)
				if err != nil {
					return err
				}
				ids := make([]uint32, 0, len(groups))
				for id := range groups {
					ids = append(ids, id)
				}
				sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
				for _, id := range ids {
					fmt.Printf("group %d:", id)
					for _, r := range groups[id] {
						fmt.Printf(" %d/%d", r.Port, r.Instance)
					}
					fmt.Println()
				}
				return nil
			})
		},
	}
}
