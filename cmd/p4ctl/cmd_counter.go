package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"p4ctl/config"
	"p4ctl/control"
)

func newCounterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counter",
		Short: "Read and clear indirect counters",
	}
	cmd.AddCommand(newCounterReadCmd(), newCounterClearCmd())
	return cmd
}

func newCounterReadCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "read <counter> [index...]",
		Short: "Read counter cells",
		Long: `Read counter cells in one request. Without indices every cell is read and
only non-zero cells are printed, unless --all is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			indices, err := parseIndices(args[1:])
			if err != nil {
				return err
			}
			return withController(cmd, true, func(ctx context.Context, _ *config.Config, sc *control.Controller) error {
				cc, err := sc.Counter(args[0])
				if err != nil {
					return err
				}
				cells, err := cc.Read(ctx, indices)
				if err != nil {
					return err
				}
				keys := make([]int64, 0, len(cells))
				for i := range cells {
					keys = append(keys, i)
				}
				sort.Slice(keys, func(a, b int) bool { return keys[a] < keys[b] })

				fmt.Printf("%-8s %16s %16s\n", "INDEX", "BYTES", "PACKETS")
				for _, i := range keys {
					d := cells[i]
					if indices == nil && !all && d.ByteCount == 0 && d.PacketCount == 0 {
						continue
					}
					fmt.Printf("%-8d %16d %16d\n", i, d.ByteCount, d.PacketCount)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "print zero cells too")
	return cmd
}

func newCounterClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <counter> [index...]",
		Short: "Reset counter cells to zero",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			indices, err := parseIndices(args[1:])
			if err != nil {
				return err
			}
			return withController(cmd, true, func(ctx context.Context, _ *config.Config, sc *control.Controller) error {
				cc, err := sc.Counter(args[0])
				if err != nil {
					return err
				}
				return cc.Clear(ctx, indices)
			})
		},
	}
}
