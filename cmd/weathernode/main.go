package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "weathernode",
		Short:         "WeatherAPI.com node for a home-automation controller",
		Long:          "Polls WeatherAPI.com for one location and exposes the readings as typed driver channels.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the controller, scheduler and admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}

	pollCmd := &cobra.Command{
		Use:   "poll",
		Short: "Fetch the configured location once and print its channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			return pollFromConfig(cmd.Context(), cmd.OutOrStdout(), output)
		},
	}
	pollCmd.Flags().StringP("output", "o", "text", "Output format (text, json)")

	normalizeCmd := &cobra.Command{
		Use:   "normalize [location]",
		Short: "Print the query form of a location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printNormalized(cmd.OutOrStdout(), args[0])
		},
	}

	root.AddCommand(serveCmd, pollCmd, normalizeCmd)
	return root
}
