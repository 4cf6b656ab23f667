// p4ctl - P4Runtime control-plane client
//
// p4ctl opens a P4Runtime session to a device, binds the running program
// and manipulates its tables, counters, registers and multicast groups.
//
// Usage:
//
//	p4ctl schema                         List the resources of the bound program
//	p4ctl install                        Push p4info and device config to the device
//	p4ctl table add <table> ...          Insert or modify a table entry
//	p4ctl table clear-all                Delete entries from every table
//	p4ctl counter read <counter> [idx]   Read counter cells
//	p4ctl register read <reg> [idx]      Read register cells
//	p4ctl mcast set <group> <port>...    Replace the members of a multicast group
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"p4ctl/client"
	"p4ctl/config"
	"p4ctl/control"
	"p4ctl/signal"
	"p4ctl/util"
)

var (
	configPath string
	address    string
	deviceID   uint64
	clientID   uint32
	program    string
	p4infoPath string
	verbose    bool
	jsonLog    bool
)

func main() {
	ctx, stop := signal.WithSignals(context.Background())
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "p4ctl",
	Short:             "P4Runtime control-plane client",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `p4ctl talks to a P4Runtime device: it subscribes as master, binds the
running program and manipulates tables, counters, registers and multicast groups.

Names may be given fully qualified (Ingress.t_fwd) or by any unique dotted
suffix (t_fwd).

  p4ctl -a 10.0.0.1 table add t_fwd --match ingress_port=1 --action send --param egress_port=2`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if jsonLog {
			util.SetJSONFormat()
		}
		if verbose {
			return util.SetLogLevel("debug")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("P4CTL_CONFIG"), "config file (YAML)")
	rootCmd.PersistentFlags().StringVarP(&address, "address", "a", "", "device address, host[:port]")
	rootCmd.PersistentFlags().Uint64VarP(&deviceID, "device-id", "d", 0, "P4Runtime device id")
	rootCmd.PersistentFlags().Uint32Var(&clientID, "client-id", 0, "preferred client id (0 picks one)")
	rootCmd.PersistentFlags().StringVarP(&program, "program", "p", "", "expected program name")
	rootCmd.PersistentFlags().StringVar(&p4infoPath, "p4info", "", "P4Info file (JSON, text or binary)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonLog, "json-log", false, "log in JSON")

	rootCmd.AddCommand(
		newSchemaCmd(),
		newInstallCmd(),
		newTableCmd(),
		newCounterCmd(),
		newRegisterCmd(),
		newMcastCmd(),
	)
}

// loadConfig resolves settings from: flags > config file > defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("address") {
		cfg.Address = address
	}
	if flags.Changed("device-id") {
		cfg.DeviceID = deviceID
	}
	if flags.Changed("client-id") {
		cfg.ClientID = clientID
	}
	if flags.Changed("program") {
		cfg.Program = program
	}
	if flags.Changed("p4info") {
		cfg.P4Info = p4infoPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !verbose {
		if err := util.SetLogLevel(cfg.LogLevel); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// withController opens a session, optionally binds the running program, runs
// fn and always tears the session down.
func withController(cmd *cobra.Command, bind bool, fn func(context.Context, *config.Config, *control.Controller) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	c, err := client.NewClient(cfg.Address, cfg.DeviceID, cfg.ClientOptions()...)
	if err != nil {
		return err
	}
	sc := control.NewController(c)
	defer sc.Teardown()

	if _, err := sc.Run(ctx, cfg.ClientID); err != nil {
		return err
	}
	if bind {
		if err := sc.Bind(ctx, cfg.Program); err != nil {
			return err
		}
	}
	return fn(ctx, cfg, sc)
}

// parseAssignments splits "name=value" arguments.
func parseAssignments(args []string) ([]control.Field, error) {
	fields := make([]control.Field, 0, len(args))
	for _, a := range args {
		name, value, ok := strings.Cut(a, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%q must be in 'name=value' format", a)
		}
		fields = append(fields, control.Field{Name: name, Value: value})
	}
	return fields, nil
}

func parseIndices(args []string) ([]int64, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make([]int64, 0, len(args))
	for _, a := range args {
		i, err := strconv.ParseInt(a, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid index %q", a)
		}
		out = append(out, i)
	}
	return out, nil
}

func parseUint32s(args []string) ([]uint32, error) {
	out := make([]uint32, 0, len(args))
	for _, a := range args {
		v, err := strconv.ParseUint(a, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", a)
		}
		out = append(out, uint32(v))
	}
	return out, nil
}

// printError prints partial failures of bulk operations as warnings.
func printError(err error) {
	var me *util.MultiError
	if errors.As(err, &me) {
		for _, e := range me.Errors {
			fmt.Fprintln(os.Stderr, yellow("warning:"), e)
		}
	}
	fmt.Fprintln(os.Stderr, red("error:"), err)
}

func green(s string) string  { return color.GreenString(s) }
func yellow(s string) string { return color.YellowString(s) }
func red(s string) string    { return color.RedString(s) }
