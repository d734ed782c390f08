package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "timelinesim",
	Short: "timelinesim drives simulation and wall timelines from a game loop.",
	Long: `timelinesim drives a simulation timeline and a wall timeline ` +
		`once per tick and runs a demo workload of agents on them. ` +
		`Settings come from a .env file, the environment, and flags.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
