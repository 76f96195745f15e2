package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/securyflex/accountguard/httpapi"
	"github.com/securyflex/accountguard/metrics/export/prometheus"
	"github.com/securyflex/accountguard/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the account security HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, st)
		},
	}
	cmd.Flags().String("listen", "", "listen address (default :8080)")
	_ = st.viper.BindPFlag("listen", cmd.Flags().Lookup("listen"))
	return cmd
}

func serve(ctx context.Context, st *state) error {
	a, err := openApp(ctx, st.settings, st.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, warning := range a.engine.SecurityReport().Warnings {
		st.logger.Warn("security configuration", zap.String("warning", warning))
	}

	opts := httpapi.Options{
		Logger:              st.logger,
		Guard:               middleware.GuardConfig{TrustForwardedFor: st.settings.HTTP.TrustForwardedFor},
		DisableRegistration: st.settings.HTTP.DisableRegistration,
	}
	if st.settings.Metrics.Enabled {
		metrics, err := prometheus.Handler(a.engine)
		if err != nil {
			return err
		}
		opts.Metrics = metrics
	}

	srv := &http.Server{
		Addr:              st.settings.Listen,
		Handler:           httpapi.NewRouter(a.engine, opts),
		ReadTimeout:       st.settings.HTTP.ReadTimeout,
		ReadHeaderTimeout: st.settings.HTTP.ReadTimeout,
		WriteTimeout:      st.settings.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		st.logger.Info("listening", zap.String("addr", srv.Addr), zap.String("backend", st.settings.Backend))
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

	st.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), st.settings.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
