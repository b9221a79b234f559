package transport

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const shutdownGrace = 5 * time.Second

// ServeUntilDone runs an HTTP server on addr until the context is
// canceled, then drains in-flight requests within a short grace window.
// It returns the listen error if the server fails to start or crashes.
func ServeUntilDone(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info("server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
