package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openlaser/go-ruida/codec"
	"github.com/openlaser/go-ruida/controller"
	"github.com/openlaser/go-ruida/logger"
	"github.com/openlaser/go-ruida/ruida"
	"github.com/openlaser/go-ruida/session"
)

var (
	sendSwizzled bool
	sendWatch    bool
)

var sendCmd = &cobra.Command{
	Use:   "send <file>",
	Short: "Send a command file to the configured device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if deviceName == "" {
			return fmt.Errorf("send needs --device")
		}
		dev, err := profiles.Lookup(deviceName)
		if err != nil {
			return err
		}
		magic, err := dev.MagicByte()
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		if sendSwizzled {
			data = codec.NewCodec(magic).Unswizzle(data)
		}
		prog, err := ruida.ParseProgram(data)
		if err != nil {
			return err
		}

		tp, err := dev.OpenTransport()
		if err != nil {
			return err
		}

		framing := session.FramingPacket
		if dev.Transport == "serial" {
			framing = session.FramingStream
		}
		cfg, err := session.NewConfig(
			session.WithMagic(magic),
			session.WithFraming(framing),
			session.WithLogger(logger.GetLogger()),
		)
		if err != nil {
			return err
		}

		sess := session.New(tp, cfg)
		if err := sess.Open(); err != nil {
			return err
		}
		defer sess.Close() //nolint:errcheck

		ctl := controller.New(sess)
		if sendWatch {
			ctl.Poller().OnPosition(func(x, y float64) {
				logger.Info("position", "x", x, "y", y)
			})
			ctl.Poller().OnStatus(func(status uint64) {
				logger.Info("status", "word", fmt.Sprintf("0x%X", status))
			})
			ctl.Poller().Start()
			defer ctl.Poller().Stop()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result := make(chan controller.JobResult, 1)
		id, err := ctl.SendProgram(ctx, prog, func(r controller.JobResult) {
			result <- r
		})
		if err != nil {
			return err
		}
		logger.Info("job started", "id", id, "bytes", prog.Len())

		select {
		case r := <-result:
			if r.Err != nil {
				return r.Err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d bytes in %d chunks\n", r.Bytes, r.Chunks)

			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	},
}

func init() {
	sendCmd.Flags().BoolVar(&sendSwizzled, "swizzled", false, "input file is already obfuscated")
	sendCmd.Flags().BoolVar(&sendWatch, "watch", false, "poll position and status while sending")
	rootCmd.AddCommand(sendCmd)
}
