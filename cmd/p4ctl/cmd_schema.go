package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"p4ctl/config"
	"p4ctl/control"
	"p4ctl/entity"
)

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "List the resources of a program",
		Long: `List tables, actions, counters, registers and digests.

With --p4info the file is read locally and no device is contacted.

  p4ctl schema --p4info build/basic_fwd.p4info.txt
  p4ctl -a 10.0.0.1 schema`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("p4info") {
				catalog, err := entity.LoadFile(p4infoPath)
				if err != nil {
					return err
				}
				printCatalog(catalog)
				return nil
			}
			return withController(cmd, true, func(_ context.Context, _ *config.Config, sc *control.Controller) error {
				catalog, err := sc.Client.Catalog()
				if err != nil {
					return err
				}
				printCatalog(catalog)
				return nil
			})
		},
	}
}

func printCatalog(c *entity.Catalog) {
	fmt.Printf("program %s\n", green(c.Program()))
	for _, name := range c.Tables() {
		t, err := c.Table(name)
		if err != nil {
			continue
		}
		keys := make([]string, 0, len(t.Keys))
		for _, k := range t.Keys {
			keys = append(keys, fmt.Sprintf("%s:%s/%d", k.Name, k.Match, k.Bitwidth))
		}
		suffix := ""
		if t.IsConst {
			suffix = yellow(" (const)")
		}
		fmt.Printf("  table    %s [%s]%s\n", name, strings.Join(keys, ", "), suffix)
	}
	for _, name := range c.Actions() {
		a, err := c.Action(nil, name)
		if err != nil {
			continue
		}
		params := make([]string, 0, len(a.Params))
		for _, p := range a.Params {
			params = append(params, fmt.Sprintf("%s/%d", p.Name, p.Bitwidth))
		}
		fmt.Printf("  action   %s(%s)\n", name, strings.Join(params, ", "))
	}
	for _, name := range c.Counters() {
		if ctr, err := c.Counter(name); err == nil {
			fmt.Printf("  counter  %s[%d] %s\n", name, ctr.Size, ctr.Unit)
		}
	}
	for _, name := range c.Registers() {
		if r, err := c.Register(name); err == nil {
			fmt.Printf("  register %s[%d] %d members\n", name, r.Size, len(r.Members))
		}
	}
	for _, name := range c.Digests() {
		fmt.Printf("  digest   %s\n", name)
	}
}
