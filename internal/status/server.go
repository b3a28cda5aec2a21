package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const defaultPushInterval = time.Second

// Server exposes a board over HTTP: GET /health, GET /status for a one-shot
// JSON snapshot, and GET /ws for a pushed snapshot stream.
type Server struct {
	addr     string
	board    *Board
	logger   *slog.Logger
	interval time.Duration
	upgrader websocket.Upgrader
}

// NewServer returns an unstarted status server bound to addr.
func NewServer(addr string, board *Board, logger *slog.Logger) *Server {
	return &Server{
		addr:     addr,
		board:    board,
		logger:   logger,
		interval: defaultPushInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run serves until ctx is cancelled. It always returns a non-nil reason;
// http.ErrServerClosed is mapped to nil.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.board.Snapshot())
	})
	mux.HandleFunc("/ws", s.handleWS(ctx))

	srv := &http.Server{Addr: s.addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("status server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", "err", err)
			return
		}
		defer conn.Close()

		// Drain client frames so pings and close frames are processed.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			if err := conn.WriteJSON(s.board.Snapshot()); err != nil {
				return
			}
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
					time.Now().Add(time.Second))
				return
			case <-ticker.C:
			}
		}
	}
}
