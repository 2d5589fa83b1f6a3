package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openlaser/go-ruida/codec"
	"github.com/openlaser/go-ruida/emulator"
	"github.com/openlaser/go-ruida/logger"
	"github.com/openlaser/go-ruida/transport"
)

var (
	emulatePort  int
	emulateMagic string
)

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Run a UDP controller emulator for offline testing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		magic := codec.MagicRDC6445
		if emulateMagic != "" {
			d := Device{Magic: emulateMagic}
			m, err := d.MagicByte()
			if err != nil {
				return err
			}
			magic = m
		}

		conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: emulatePort})
		if err != nil {
			return err
		}
		defer conn.Close() //nolint:errcheck

		e := emulator.New(magic, emulator.WithLogger(logger.GetLogger()))
		defer e.Close()

		jobs := e.Subscribe(emulator.TopicJob, 16)
		defer jobs.Close()
		status := e.Subscribe(emulator.TopicStatus, 16)
		defer status.Close()
		go func() {
			for {
				select {
				case ev, ok := <-jobs.C:
					if !ok {
						return
					}
					if je, ok := ev.(emulator.JobEvent); ok {
						logger.Info("job", "id", je.ID, "state", je.State, "commands", je.Commands)
					}
				case ev, ok := <-status.C:
					if !ok {
						return
					}
					logger.Info("machine state", "state", ev)
				}
			}
		}()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		go func() {
			<-ctx.Done()
			conn.Close() //nolint:errcheck
		}()

		fmt.Fprintf(cmd.OutOrStdout(), "listening on %s (magic 0x%02X)\n", conn.LocalAddr(), magic)

		buf := make([]byte, 2048)
		for {
			n, peer, err := conn.ReadFromUDP(buf)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}

				return err
			}

			datagram := make([]byte, n)
			copy(datagram, buf[:n])
			for _, reply := range e.Accept(datagram) {
				if _, err := conn.WriteToUDP(reply, peer); err != nil {
					logger.Warn("reply failed", "peer", peer, "error", err)
				}
			}
		}
	},
}

func init() {
	emulateCmd.Flags().IntVar(&emulatePort, "port", transport.DefaultRemotePort, "UDP port to listen on")
	emulateCmd.Flags().StringVar(&emulateMagic, "magic", "", "swizzle key, e.g. 0x88")
	rootCmd.AddCommand(emulateCmd)
}
