// Package server exposes a devnet ledger over HTTP: the gateway routes
// behind HMAC auth, and the mirror routes public.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xueqianLu/ledgerctl/internal/devnet"
	"github.com/xueqianLu/ledgerctl/internal/handler"
	"github.com/xueqianLu/ledgerctl/internal/middleware"
)

const shutdownTimeout = 5 * time.Second

// NewServer creates and configures an HTTP server.
func NewServer(handler http.Handler, addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// Routes builds the devnet mux.
func Routes(l *devnet.Ledger, auth *middleware.AuthMiddleware) http.Handler {
	accounts := handler.NewAccountsHandler(l)

	mux := http.NewServeMux()
	mux.Handle("GET /health", handler.NewHealthHandler(l.NodeAccountID()))
	mux.Handle("POST /transactions", auth.Wrap(handler.NewSubmitHandler(l)))
	mux.Handle("GET /transactions/{id}/receipt", auth.Wrap(handler.NewReceiptHandler(l)))
	mux.HandleFunc("GET /api/v1/accounts", accounts.List)
	mux.HandleFunc("GET /api/v1/accounts/{id}", accounts.Get)
	mux.Handle("GET /api/v1/topics/{id}/messages", handler.NewMessagesHandler(l))
	return mux
}

// Run serves until ctx is cancelled, then shuts the server down.
func Run(ctx context.Context, srv *http.Server, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	log.Info("shutting down server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
