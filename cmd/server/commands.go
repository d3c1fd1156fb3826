package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/database"
	"github.com/iliyamo/auth-service/internal/email"
	"github.com/iliyamo/auth-service/internal/logs"
	"github.com/iliyamo/auth-service/internal/queue"
)

func newPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired and spent tokens once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logs.L()
			defer func() { _ = logs.Sync() }()
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			a, err := buildApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close(context.Background())
			stats, err := a.sweeper.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "refresh_tokens=%d verification_tokens=%d reset_tokens=%d rate_limit_counters=%d\n",
				stats.RefreshTokens, stats.VerificationTokens, stats.ResetTokens, stats.RateLimitCounters)
			return nil
		},
	}
}

func newMailWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mail-worker",
		Short: "Consume the mail queue and deliver over SMTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logs.L()
			defer func() { _ = logs.Sync() }()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			smtp := email.NewSMTPSender(smtpConfig(cfg), log.Named("smtp"))
			log.Info("mail worker started", zap.String("queue", queue.MailQueueName))
			return queue.NewConsumer(cfg.RabbitMQURL, smtp, log.Named("mail-worker")).Run(ctx)
		},
	}
}

func newCreateAdminCmd() *cobra.Command {
	var emailAddr string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create a verified admin account (password from ADMIN_PASSWORD)",
		RunE: func(cmd *cobra.Command, args []string) error {
			password := os.Getenv("ADMIN_PASSWORD")
			if emailAddr == "" || password == "" {
				return fmt.Errorf("--email and ADMIN_PASSWORD are required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logs.L()
			defer func() { _ = logs.Sync() }()
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			a, err := buildApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close(context.Background())
			u, err := a.auth.CreateAdmin(ctx, emailAddr, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin created: id=%s email=%s\n", u.ID, u.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&emailAddr, "email", "", "admin email address")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			db, err := openDB(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := database.Migrate(ctx, db); err != nil {
				return err
			}
			logs.L().Info("schema applied", zap.Int("statements", len(database.Statements())))
			return nil
		},
	}
}
