package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/auth-service/internal/database"
	"github.com/iliyamo/auth-service/internal/logs"
	"github.com/iliyamo/auth-service/internal/middleware"
	"github.com/iliyamo/auth-service/internal/router"
)

func newServeCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logs.L()
			defer func() { _ = logs.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			if migrate {
				if err := database.Migrate(ctx, a.db); err != nil {
					a.close(context.Background())
					return err
				}
			}

			ip, err := middleware.IPExtractor(cfg.TrustedProxies)
			if err != nil {
				a.close(context.Background())
				return err
			}
			e := router.New(router.Deps{
				Auth:    a.auth,
				Tokens:  a.tokens,
				Keys:    a.keys,
				Limiter: limiterOrNil(a),
				DB:      a.db,
				Metrics: a.metrics,
				Log:     log,
			}, ip)

			srv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           e,
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info("listening", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("listen: %w", err)
				}
				return nil
			})
			g.Go(func() error { return a.sweeper.Run(gctx) })
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("shutdown: %w", err)
				}
				return nil
			})

			err = g.Wait()
			drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			a.close(drainCtx)
			log.Info("stopped")
			return err
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the embedded schema before serving")
	return cmd
}

// limiterOrNil keeps a nil *Limiter from turning into a non-nil interface.
func limiterOrNil(a *app) middleware.Admitter {
	if a.limiter == nil {
		return nil
	}
	return a.limiter
}
