package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openlaser/go-ruida/codec"
	"github.com/openlaser/go-ruida/logger"
	"github.com/openlaser/go-ruida/ruida"
)

var (
	decodeMagic string
	decodePlain bool
)

// discardDriver satisfies ruida.Driver for offline decoding, where no machine
// state exists.
type discardDriver struct{}

func (discardDriver) Plot(*ruida.PlotCut) {}

func (discardDriver) Status() (ruida.Position, string, string) {
	return ruida.Position{}, "idle", ""
}

var decodeCmd = &cobra.Command{
	Use:   "decode <file>",
	Short: "Decode a swizzled command file and print one line per command",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		plain := data
		if !decodePlain {
			magic, err := resolveMagic(data)
			if err != nil {
				return err
			}
			plain = codec.NewCodec(magic).Unswizzle(data)
		}

		cmds, err := codec.SplitCommands(plain)
		if err != nil {
			return err
		}

		it := ruida.NewInterpreter(discardDriver{}, logger.GetLogger())
		for i, c := range cmds {
			desc, err := it.Execute(c)
			if err != nil {
				desc = fmt.Sprintf("?? %v", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%4d  % -24X %s\n", i, c, desc)
		}
		it.Flush()

		return nil
	},
}

// resolveMagic honors an explicit --magic and otherwise sniffs the stream.
func resolveMagic(swizzled []byte) (byte, error) {
	if decodeMagic != "" {
		d := Device{Magic: decodeMagic}

		return d.MagicByte()
	}

	return codec.SniffMagic(swizzled)
}

func init() {
	decodeCmd.Flags().StringVar(&decodeMagic, "magic", "", "swizzle key, e.g. 0x88 (default: sniffed)")
	decodeCmd.Flags().BoolVar(&decodePlain, "plain", false, "input is already de-obfuscated")
	rootCmd.AddCommand(decodeCmd)
}
