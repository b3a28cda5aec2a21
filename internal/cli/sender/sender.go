// Package sender implements the `roundsend send` subcommand.
package sender

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/roundsend/roundsend/internal/config"
	"github.com/roundsend/roundsend/internal/logging"
	"github.com/roundsend/roundsend/internal/send"
	"github.com/roundsend/roundsend/internal/sink"
	"github.com/roundsend/roundsend/internal/status"
	"github.com/roundsend/roundsend/internal/transport"
	"github.com/roundsend/roundsend/internal/wire"
)

// Run executes the send subcommand and exits the process on failure.
func Run(args []string) {
	cfg, err := config.ParseSenderConfig(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	board := status.NewBoard("sender")
	logger := logging.New("roundsend-send", cfg.LogLevel).With("run_id", board.RunID())

	ch, err := transport.DialMulticast(transport.UDPConfig{
		Group:            cfg.Group,
		Port:             cfg.Port,
		Interface:        cfg.Interface,
		WriteBufferBytes: 8 * 1024 * 1024,
	})
	if err != nil {
		logger.Error("cannot open multicast channel", "err", err)
		os.Exit(1)
	}
	defer ch.Close()

	var codec wire.Codec = wire.MultiStreamCodec{}
	if cfg.Legacy {
		codec = wire.LegacyCodec{}
	}

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

	logger.Info("sending",
		"group", cfg.Group, "port", cfg.Port, "iface", cfg.Interface,
		"files", cfg.Files, "pps", cfg.PPS, "chunk_size", cfg.ChunkSize)

	// One stream per file, sent concurrently. Each chunker owns its stream's
	// sequence space; the channel itself is safe for concurrent sends.
	var wg sync.WaitGroup
	errs := make([]error, len(cfg.Files))
	for i, path := range cfg.Files {
		streamID := cfg.BaseStreamID + uint32(i)
		wg.Add(1)
		go func(path string, streamID uint32, slot *error) {
			defer wg.Done()
			*slot = sendFile(ctx, ch, codec, cfg, board, logger, path, streamID)
		}(path, streamID, &errs[i])
	}
	wg.Wait()

	failed := false
	for i, err := range errs {
		if err != nil {
			failed = true
			logger.Error("send failed", "file", cfg.Files[i], "err", err)
		}
	}
	if failed {
		os.Exit(1)
	}
}

func sendFile(ctx context.Context, ch transport.Channel, codec wire.Codec,
	cfg config.SenderConfig, board *status.Board, logger *slog.Logger,
	path string, streamID uint32) error {

	src, err := sink.OpenFile(path)
	if err != nil {
		return err
	}
	defer src.Close()

	logger.Info("stream starting", "stream", streamID, "file", path, "size", src.Size())

	chunker := send.NewChunker(ch, codec, send.Options{
		StreamID:        streamID,
		ChunkSize:       cfg.ChunkSize,
		FramesPerSecond: cfg.PPS,
		Logger:          logger,
		Board:           board,
	})
	sum, err := chunker.Run(ctx, src)
	if err != nil {
		return err
	}
	if sum.Interrupted {
		logger.Warn("stream interrupted", "stream", streamID, "sent_frames", sum.Frames)
	}
	return nil
}
