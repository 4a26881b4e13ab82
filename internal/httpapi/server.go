package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Listener runs the API on its own http.Server.
type Listener struct {
	server *http.Server
}

func NewListener(addr string, api *Server) *Listener {
	return &Listener{
		server: &http.Server{
			Addr:              addr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func (l *Listener) Start() {
	go func() {
		slog.Info("http api listening", "addr", l.server.Addr)
		if err := l.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http api server error", "error", err)
		}
	}()
}

func (l *Listener) Stop(ctx context.Context) {
	if err := l.server.Shutdown(ctx); err != nil {
		slog.Error("http api shutdown error", "error", err)
	}
}
