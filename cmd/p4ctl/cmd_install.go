package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"p4ctl/config"
	"p4ctl/control"
)

func newInstallCmd() *cobra.Command {
	var deviceConfig string
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Push a compiled program to the device",
		Long: `Install the program described by --p4info and --device-config, then bind it.

  p4ctl install --p4info build/basic_fwd.p4info.txt --device-config build/basic_fwd.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd, false, func(ctx context.Context, cfg *config.Config, sc *control.Controller) error {
				if deviceConfig != "" {
					cfg.DeviceConfig = deviceConfig
				}
				if cfg.P4Info == "" || cfg.DeviceConfig == "" {
					return fmt.Errorf("install needs both a p4info file and a device config")
				}
				if err := sc.InstallProgram(ctx, cfg.Program, cfg.DeviceConfig, cfg.P4Info); err != nil {
					return err
				}
				catalog, err := sc.Client.Catalog()
				if err != nil {
					return err
				}
				fmt.Printf("installed %s\n", green(catalog.Program()))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&deviceConfig, "device-config", "", "target-specific device config (e.g. bmv2 JSON)")
	return cmd
}
