package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/slok/agentbox/internal/log"
)

// ListenAndServe serves handler on addr until ctx is cancelled, then shuts the server
// down and waits for the background task runs of the handler.
func ListenAndServe(ctx context.Context, addr string, handler *Handler, logger log.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Infof("HTTP API listening on %s", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-shutdownDone
		handler.Wait()
		return nil
	}
	return err
}
