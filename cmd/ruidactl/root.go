package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openlaser/go-ruida/logger"
)

var (
	// Global flags.
	profilesPath string
	deviceName   string
	verbose      bool

	// profiles is loaded once in PersistentPreRunE.
	profiles *Profiles
)

var rootCmd = &cobra.Command{
	Use:   "ruidactl",
	Short: "Work with laser controllers: decode, probe, send, emulate",
	Long: `ruidactl talks the controller wire protocol. It decodes captured
job files into readable command listings, detects the swizzle magic key of a
capture, streams jobs to a machine over UDP or serial, and runs a software
controller for development without hardware.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			logger.SetLevel(logger.DebugLevel)
		}

		var err error
		profiles, err = LoadProfiles(profilesPath)
		if err != nil {
			return fmt.Errorf("load profiles: %w", err)
		}

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profilesPath, "profiles", "",
		"device profile file (default $HOME/.config/ruidactl/devices.yaml)")
	rootCmd.PersistentFlags().StringVarP(&deviceName, "device", "d", "",
		"device profile name")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
