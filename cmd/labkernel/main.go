package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configFile  string
	verbose     bool
	metricsAddr string
	home        bool

	rootCmd = &cobra.Command{
		Use:   "labkernel",
		Short: "Drive a simulated confocal microscope through its measurement procedures",
		Long: `labkernel runs scan, count-rate optimization, photon-correlation, emitter
and sample characterization procedures on a simulated positioner stage and
photon counter, ticking the procedure state machine on a cooperative module
loop.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a YAML or JSON config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging to stderr")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&home, "home", false, "Home the stage before starting the procedure")

	rootCmd.AddCommand(scanCmd, optimizeCmd, characterizeCmd, correlateCmd, sampleCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
