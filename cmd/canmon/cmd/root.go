package cmd

import (
	"context"
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var rootCmd = &cobra.Command{
	Use:          "canmon",
	Short:        "CAN bus monitor for serial CAN adapters",
	Long:         `Decode, filter, dump and export frames from a USB serial CAN adapter`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

const (
	flagPort     = "port"
	flagBaudrate = "baudrate"
	flagSpeed    = "speed"
	flagConfig   = "config"
	flagProject  = "project"
	flagDebug    = "debug"
	flagRetries  = "retries"
)

func init() {
	log.SetFlags(log.Lshortfile | log.LstdFlags)

	addSessionFlags(rootCmd.PersistentFlags())
}

func addSessionFlags(pf *pflag.FlagSet) {
	pf.StringP(flagPort, "p", "", "com-port, see the ports command")
	pf.IntP(flagBaudrate, "b", 2000000, "serial baudrate")
	pf.IntP(flagSpeed, "s", 500000, "CAN bitrate")
	pf.StringP(flagConfig, "c", "", "TOML config file")
	pf.String(flagProject, "", "project file with filter rules (.json or .cbor)")
	pf.BoolP(flagDebug, "d", false, "debug mode")
	pf.Uint(flagRetries, 3, "attempts to open the port")
}
