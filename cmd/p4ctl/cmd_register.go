package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"p4ctl/config"
	"p4ctl/control"
)

func newRegisterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Read and clear registers",
	}
	cmd.AddCommand(newRegisterReadCmd(), newRegisterClearCmd())
	return cmd
}

// parseCombiner understands sum, max, min, overflow and highlow:<instances>.
func parseCombiner(s string) (control.Combiner, error) {
	switch name, arg, _ := strings.Cut(s, ":"); name {
	case "":
		return nil, nil
	case "sum":
		return control.Sum, nil
	case "max":
		return control.Max, nil
	case "min":
		return control.MinNonZero, nil
	case "overflow":
		return control.MaxWithOverflow, nil
	case "highlow":
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("highlow needs an instance count, e.g. highlow:4")
		}
		return control.HighLowSum(n), nil
	}
	return nil, fmt.Errorf("unknown combiner %q", s)
}

func newRegisterReadCmd() *cobra.Command {
	var combine string
	cmd := &cobra.Command{
		Use:   "read <register> [index]",
		Short: "Read register cells",
		Long: `Read one register cell, or every cell the device returns. Tuple and struct
cells are printed as one value per member, or reduced with --combine
(sum, max, min, overflow, highlow:<instances>).`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			combiner, err := parseCombiner(combine)
			if err != nil {
				return err
			}
			indices, err := parseIndices(args[1:])
			if err != nil {
				return err
			}
			format := func(values []uint64) string {
				if combiner != nil {
					return strconv.FormatUint(combiner(values), 10)
				}
				parts := make([]string, len(values))
				for i, v := range values {
					parts[i] = strconv.FormatUint(v, 10)
				}
				return strings.Join(parts, " ")
			}
			return withController(cmd, true, func(ctx context.Context, _ *config.Config, sc *control.Controller) error {
				rc, err := sc.Register(args[0])
				if err != nil {
					return err
				}
				if len(indices) == 1 {
					values, err := rc.Read(ctx, indices[0])
					if err != nil {
						return err
					}
					fmt.Printf("%-8d %s\n", indices[0], format(values))
					return nil
				}
				cells, err := rc.ReadAll(ctx)
				if err != nil {
					return err
				}
				keys := make([]int64, 0, len(cells))
				for i := range cells {
					keys = append(keys, i)
				}
				sort.Slice(keys, func(a, b int) bool { return keys[a] < keys[b] })
				for _, i := range keys {
					fmt.Printf("%-8d %s\n", i, format(cells[i]))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&combine, "combine", "", "reduce each cell to one value")
	return cmd
}

func newRegisterClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <register>",
		Short: "Reset every register cell to zero",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd, true, func(ctx context.Context, _ *config.Config, sc *control.Controller) error {
				rc, err := sc.Register(args[0])
				if err != nil {
					return err
				}
				return rc.Clear(ctx)
			})
		},
	}
}
