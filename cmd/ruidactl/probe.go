package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openlaser/go-ruida/codec"
)

var probeCmd = &cobra.Command{
	Use:   "probe <file>",
	Short: "Sniff the swizzle key of a captured command file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		magic, err := codec.SniffMagic(data)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "0x%02X\n", magic)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
