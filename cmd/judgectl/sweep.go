package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sweepRole string

// sweepCmd removes containers left behind by a crashed worker or API server.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove orphaned sandbox environments",
	Long: `Removes every container labelled with this host's instance for the given
role. Run it only while that service is stopped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, engine, logger, err := loadEngine(sweepRole)
		if err != nil {
			return err
		}
		defer engine.Close()
		defer logger.Sync()

		n, err := engine.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d environment(s)\n", n)
		return nil
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull the images of every enabled language and the terminal image",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, engine, logger, err := loadEngine("cli")
		if err != nil {
			return err
		}
		defer engine.Close()
		defer logger.Sync()

		if err := engine.PullImages(cmd.Context(), cfg.Terminal.Image); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "images ready")
		return nil
	},
}

func init() {
	sweepCmd.Flags().StringVar(&sweepRole, "role", "worker", "service role whose environments to remove (worker or api)")
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(pullCmd)
}
