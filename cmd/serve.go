package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/avatarhost/internal/server"
	"github.com/audiolibrelab/avatarhost/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session with the HTTP control API",
	Long: `Run the session and start the HTTP control API. Speech, text, chat,
custom states and recording are driven through the API until the process
is interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")
		if port == "" {
			port = cfg.Server.Port
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sess, err := session.New(ctx, cfg, ffmpegLogWriter())
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		defer sess.Close()

		srv := server.New(ctx, sess, port)
		slog.Info("Avatar host starting", "port", port, "config", cfgFile, "profile", cfg.Profile, "session_id", sess.SessionID())

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return sess.Run(ctx)
		})
		g.Go(func() error {
			return srv.Start(ctx)
		})

		if err := g.Wait(); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "", "port for the control API (overrides config)")
}
