package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coinbase/spendauth/internal/devledger"
	"github.com/coinbase/spendauth/server"
	"github.com/coinbase/spendauth/validator"
	"github.com/coinbase/spendauth/verifierclient"
)

func newServeCmd(a *app) *cobra.Command {
	var router string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the spender HTTP service",
		Long: `Run the spender HTTP service. Redemptions and batches are forwarded to verifier_url
when it is set; otherwise an in-memory ledger is used, which is only suitable for development.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := a.service(ctx)
			if err != nil {
				return err
			}
			handler, err := newHandler(router, svc)
			if err != nil {
				return err
			}
			return a.listen(ctx, handler)
		},
	}
	cmd.Flags().StringVar(&router, "router", "gin", "HTTP router: gin or echo")
	return cmd
}

func (a *app) service(ctx context.Context) (*server.Service, error) {
	opts, err := a.validatorOptions(ctx)
	if err != nil {
		return nil, err
	}
	v := validator.New(opts...)

	var backend server.Backend
	if a.cfg.VerifierURL != "" {
		client := verifierclient.New(a.cfg.VerifierURL, verifierclient.WithLogger(a.log))
		if err := client.CheckNetwork(ctx, a.cfg.ChainIDBig()); err != nil {
			return nil, fmt.Errorf("verifier check failed: %w", err)
		}
		backend = client
		a.log.Info("using remote verifier", zap.String("url", a.cfg.VerifierURL))
	} else {
		sv, err := a.signatureVerifier(ctx)
		if err != nil {
			return nil, err
		}
		backend = devledger.New(a.cfg.ChainIDBig(), devledger.WithSignatureVerifier(sv))
		a.log.Warn("verifier_url not set, using in-memory ledger")
	}

	return server.NewService(backend,
		server.WithValidator(v),
		server.WithChainID(a.cfg.ChainIDBig()),
		server.WithLogger(a.log),
		server.WithAllowedOrigins(a.cfg.AllowedOrigins()...)), nil
}

func newHandler(router string, svc *server.Service) (http.Handler, error) {
	switch router {
	case "gin":
		return server.NewGinRouter(svc), nil
	case "echo":
		return server.NewEchoRouter(svc), nil
	}
	return nil, fmt.Errorf("unknown router %q", router)
}

func (a *app) listen(ctx context.Context, handler http.Handler) error {
	srv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	a.log.Info("listening",
		zap.String("addr", a.cfg.ListenAddr),
		zap.Uint64("chain_id", a.cfg.ChainID))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
