package main

import (
	"context"
	"fmt"

	protov1 "github.com/golang/protobuf/proto"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/prototext"

	"p4ctl/config"
	"p4ctl/control"
)

func newTableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Manage table entries",
	}
	cmd.AddCommand(
		newTableAddCmd(),
		newTableDeleteCmd(),
		newTableDumpCmd(),
		newTableClearCmd(),
		newTableClearAllCmd(),
	)
	return cmd
}

func newTableAddCmd() *cobra.Command {
	var (
		matches  []string
		params   []string
		action   string
		priority int32
		modify   bool
	)
	cmd := &cobra.Command{
		Use:   "add <table>",
		Short: "Insert or modify a table entry",
		Long: `Insert a table entry, or modify it with --modify.

Match values use the runtime CLI syntaxes: "10.0.0.0/8" (lpm),
"10.0.0.1&&&255.255.255.0" (ternary), "80->443" (range).
Naming a counter or register instead of a table writes one cell: the single
--match is the index and --param gives the values.

  p4ctl table add t_fwd --match ingress_port=1 --action send --param egress_port=2
  p4ctl table add t_acl --match dstPort=80->443 --action drop --priority 10
  p4ctl table add c_stats --match index=3 --param bytes=0 --param packets=0`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			match, err := parseAssignments(matches)
			if err != nil {
				return err
			}
			ps, err := parseAssignments(params)
			if err != nil {
				return err
			}
			mode := control.Insert
			if modify {
				mode = control.Modify
			}
			entry := control.Entry{Match: match, Action: action, Params: ps, Priority: priority}
			return withController(cmd, true, func(ctx context.Context, _ *config.Config, sc *control.Controller) error {
				if err := sc.AddToTable(ctx, args[0], entry, mode); err != nil {
					return err
				}
				fmt.Printf("%s %s\n", green(mode.String()), args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVarP(&matches, "match", "m", nil, "match key, name=value (repeatable)")
	cmd.Flags().StringVar(&action, "action", "", "action name")
	cmd.Flags().StringArrayVar(&params, "param", nil, "action parameter, name=value (repeatable)")
	cmd.Flags().Int32Var(&priority, "priority", 0, "entry priority for ternary/range tables")
	cmd.Flags().BoolVar(&modify, "modify", false, "modify an existing entry")
	return cmd
}

func newTableDeleteCmd() *cobra.Command {
	var (
		matches  []string
		priority int32
	)
	cmd := &cobra.Command{
		Use:   "delete <table>",
		Short: "Delete one table entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			match, err := parseAssignments(matches)
			if err != nil {
				return err
			}
			return withController(cmd, true, func(ctx context.Context, _ *config.Config, sc *control.Controller) error {
				tc, err := sc.Table(args[0])
				if err != nil {
					return err
				}
				return tc.Delete(ctx, match, priority)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&matches, "match", "m", nil, "match key, name=value (repeatable)")
	cmd.Flags().Int32Var(&priority, "priority", 0, "entry priority for ternary/range tables")
	return cmd
}

func newTableDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <table>",
		Short: "Print the entries of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd, true, func(ctx context.Context, _ *config.Config, sc *control.Controller) error {
				tc, err := sc.Table(args[0])
				if err != nil {
					return err
				}
				entries, err := tc.Entries(ctx)
				if err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Println(prototext.MarshalOptions{}.Format(protov1.MessageV2(e)))
				}
				fmt.Printf("%d entries in %s\n", len(entries), tc.Name())
				return nil
			})
		},
	}
}

func newTableClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <table>",
		Short: "Delete all non-default entries of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd, true, func(ctx context.Context, _ *config.Config, sc *control.Controller) error {
				return sc.ClearTable(ctx, args[0])
			})
		},
	}
}

func newTableClearAllCmd() *cobra.Command {
	var ignore []string
	cmd := &cobra.Command{
		Use:   "clear-all",
		Short: "Delete entries from every non-const table",
		Long: `Delete entries from every non-const table. Tables whose name contains one
of the --ignore strings, or one listed under clear_all_ignore in the config
file, are left alone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd, true, func(ctx context.Context, cfg *config.Config, sc *control.Controller) error {
				return sc.ClearAll(ctx, append(cfg.ClearAllIgnore, ignore...)...)
			})
		},
	}
	cmd.Flags().StringSliceVar(&ignore, "ignore", nil, "skip tables whose name contains these strings")
	return cmd
}
