package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"offsync/internal/offsync"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or clear pending offline mutations",
	}
	cmd.AddCommand(newQueueListCmd())
	cmd.AddCommand(newQueueClearCmd())
	return cmd
}

func openQueue() (*offsync.Store, *offsync.Queue, error) {
	cfg, err := offsync.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	store, err := offsync.OpenStore(cfg.Storage.Path, 0)
	if err != nil {
		return nil, nil, err
	}
	q, err := offsync.NewQueue(store, nil, nil)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, q, nil
}

func newQueueListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued requests in replay order",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, q, err := openQueue()
			if err != nil {
				return err
			}
			defer store.Close()

			items := q.Items()
			if len(items) == 0 {
				fmt.Println("queue empty")
				return nil
			}
			for i, qr := range items {
				age := time.Since(time.UnixMilli(qr.CreatedAt)).Round(time.Second)
				fmt.Printf("%2d  %s  %-6s %s  age=%s attempts=%d\n",
					i+1, qr.ID, qr.Options.Method, qr.Endpoint, age, qr.Attempts)
			}
			return nil
		},
	}
}

func newQueueClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop all queued requests (the manual escape hatch for a stuck entry)",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, q, err := openQueue()
			if err != nil {
				return err
			}
			defer store.Close()

			n := q.Len()
			if err := q.Clear(); err != nil {
				return err
			}
			fmt.Printf("cleared %d queued request(s)\n", n)
			return nil
		},
	}
}
