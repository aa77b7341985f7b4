package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fitledger",
	Short: "fitledger keeps a daily activity ledger in sync across devices",
	Long: "fitledger records steps, water, sleep, meals and workouts per user per day, " +
		"keeps them in a local cache and mirrors them to a shared document store.",
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
