// movequeue drives the move-dispatch queue from a job file or a serial line.
//
// Usage:
//
//	movequeue run CONFIG --job JOB [--virtual] [--trace] [--journal DB]
//	movequeue run CONFIG --serial
//	movequeue validate CONFIG [JOB]
//	movequeue replay DB [--run ID | --list]
//
// Examples:
//
//	# Dry run with simulated heaters, printing every step pulse
//	movequeue run printer.cfg --job demo.yaml --virtual --trace
//
//	# Serve line commands on the configured serial port with metrics
//	movequeue run printer.cfg --serial --metrics --monitor
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "movequeue",
		Short:         "Move-dispatch queue runner",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cobra.EnableCommandSorting = false
	root.CompletionOptions.HiddenDefaultCmd = true

	root.AddCommand(cmdRun())
	root.AddCommand(cmdValidate())
	root.AddCommand(cmdReplay())
	return root
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
