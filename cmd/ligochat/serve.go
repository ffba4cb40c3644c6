package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/ligochat/internal/handler"
	chatService "github.com/zhouzirui/ligochat/internal/service/chat"
	pkglog "github.com/zhouzirui/ligochat/pkg/log"
)

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose chat sessions to browsers over HTTP and Server-Sent Events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd.Context())
		},
	}
	cmd.Flags().String("addr", ":8090", "listen address of the HTTP bridge")
	a.bind("http.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func (a *app) runServe(ctx context.Context) error {
	logger := pkglog.L()

	sessions := chatService.NewService(a.newTransport, logger, a.cfg.SessionOptions()...)
	router := handler.NewRouter(sessions, logger, handler.RouterOptions{
		AllowedOrigins: a.cfg.HTTP.AllowedOrigins,
		KeepAlive:      a.cfg.HTTP.KeepAlive,
	})

	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Str("server_url", a.cfg.Server.URL).Msg("ligochat bridge listening")
		return runServer(gctx, srv)
	})
	g.Go(func() error {
		<-gctx.Done()
		return sessions.CloseAll()
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("bridge stopped")
		return err
	}
	logger.Info().Msg("bridge stopped")
	return nil
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
