package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"
)

type Server struct {
	*http.Server
	// CleanUpFuncs is a list of functions that will be called when the server has successfully shutdown.
	CleanUpFuncs []func(ctx context.Context)
}

// Start serves until ctx is cancelled, then shuts down gracefully and
// runs the cleanup functions. It does not return until shutdown has
// completed or timed out.
func (s *Server) Start(ctx context.Context) {
	s.Server.BaseContext = func(_ net.Listener) context.Context {
		return ctx
	}

	done := make(chan struct{})

	go func() {
		<-ctx.Done()

		slog.Info("server shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				slog.Error("graceful shutdown timed out, forcing exit")
				os.Exit(1)
			}
		}()

		if err := s.Server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown", "error", err)
			os.Exit(1)
		}

		for _, cf := range s.CleanUpFuncs {
			cf(shutdownCtx)
		}

		close(done)
	}()

	slog.Info("server started", "addr", s.Server.Addr)

	err := s.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		slog.Error("server exit", "error", err)
		os.Exit(1)
	}

	<-done
}
