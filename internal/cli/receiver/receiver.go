// Package receiver implements the `roundsend recv` subcommand.
package receiver

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/roundsend/roundsend/internal/config"
	"github.com/roundsend/roundsend/internal/logging"
	"github.com/roundsend/roundsend/internal/recv"
	"github.com/roundsend/roundsend/internal/sink"
	"github.com/roundsend/roundsend/internal/status"
	"github.com/roundsend/roundsend/internal/transport"
	"github.com/roundsend/roundsend/internal/wire"
)

// Run executes the receive subcommand and exits the process on failure.
func Run(args []string) {
	cfg, err := config.ParseReceiverConfig(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	var sub recv.Subscription
	if len(cfg.Streams) == 0 {
		sub = recv.AcceptAll()
	} else {
		sub = recv.AcceptSet(cfg.Streams...)
	}
	if err := sink.ValidatePattern(cfg.Output, !sub.Single()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	board := status.NewBoard("receiver")
	logger := logging.New("roundsend-recv", cfg.LogLevel).With("run_id", board.RunID())

	ch, err := transport.ListenMulticast(transport.UDPConfig{
		Group:           cfg.Group,
		Port:            cfg.Port,
		Interface:       cfg.Interface,
		ReadBufferBytes: 8 * 1024 * 1024,
	})
	if err != nil {
		logger.Error("cannot open multicast channel", "err", err)
		os.Exit(1)
	}
	defer ch.Close()

	var codec wire.Codec = wire.MultiStreamCodec{}
	if cfg.Legacy {
		codec = wire.LegacyCodec{StreamID: cfg.LegacyStreamID}
	}

	demux := recv.NewDemux(sub,
		sink.PatternOpener{Pattern: cfg.Output, AllowStdout: sub.Single()},
		recv.WithLogger(logger),
		recv.WithBoard(board),
		recv.WithMaxPending(cfg.MaxPending))
	sup := recv.NewSupervisor(cfg.FinalizeTimeout)
	loop := recv.NewLoop(ch, codec, demux, sup, recv.WithLoopLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.StatusAddr != "" {
		server := status.NewServer(cfg.StatusAddr, board, logger)
		go func() {
			if err := server.Run(ctx); err != nil {
				logger.Warn("status server stopped", "err", err)
			}
		}()
	}

	logger.Info("listening",
		"group", cfg.Group, "port", cfg.Port, "iface", cfg.Interface,
		"streams", cfg.Streams, "timeout", cfg.FinalizeTimeout)

	sum, err := loop.Run(ctx)

	for _, report := range sum.Reports {
		if report.Lossy() {
			logger.Warn("stream finished with loss", "gap", report.String())
		}
	}
	logger.Info("run finished",
		"bytes", sum.Bytes,
		"accepted", sum.Counters.Accepted,
		"unsubscribed", sum.Counters.Unsubscribed,
		"short", sum.Counters.ShortDatagram,
		"lossy", sum.Lossy())

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("receive loop failed", "err", err)
		os.Exit(1)
	}
}
