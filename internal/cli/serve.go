package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"offsync/internal/offsync"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync sidecar in front of the configured origin",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := offsync.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			svc, err := offsync.NewService(cfg)
			if err != nil {
				return fmt.Errorf("init service: %w", err)
			}
			defer svc.Close()

			if err := svc.WatchManifest(configPath); err != nil {
				log.Printf("manifest watch disabled: %v", err)
			}

			addr := fmt.Sprintf(":%d", cfg.Server.Port)
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}

			srv := &http.Server{
				Handler:           svc.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go func() {
				log.Printf("offsync listening on %s, origin=%s", addr, cfg.Server.Origin)
				err := srv.Serve(ln)
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Printf("server error: %v", err)
					stop()
				}
			}()

			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			return nil
		},
	}
}
