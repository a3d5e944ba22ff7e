package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/yinkev/Americano-sub010/internal/cli"
	"github.com/yinkev/Americano-sub010/internal/cli/admin"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "graphd",
		Short: "Knowledge graph daemon and CLI",
		Long:  "Knowledge graph daemon for running the API server and managing graph builds",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.BuildCmd())
	rootCmd.AddCommand(admin.SweepCmd())
	rootCmd.AddCommand(admin.ExportCmd())
	rootCmd.AddCommand(admin.StatsCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
