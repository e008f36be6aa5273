package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"offsync/internal/offsync"
)

func newTimerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "timer <duration>",
		Short: "Run a countdown session; the summary is persisted and synced on completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := time.ParseDuration(args[0])
			if err != nil {
				return fmt.Errorf("duration: %w", err)
			}

			cfg, err := offsync.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			svc, err := offsync.NewService(cfg)
			if err != nil {
				return fmt.Errorf("init service: %w", err)
			}
			defer svc.Close()

			startedAt := time.Now()
			done := make(chan struct{})

			t := offsync.NewTimer()
			err = t.Start(d,
				func(remaining time.Duration) {
					fmt.Printf("\r%-10s", remaining.Round(time.Second))
				},
				func() {
					fmt.Printf("\rdone        \n")
					close(done)
				})
			if err != nil {
				return err
			}

			select {
			case <-done:
			case <-cmd.Context().Done():
				t.Stop()
				fmt.Println("\rstopped     ")
				return nil
			}

			sum := offsync.SessionSummary{
				StartedAt:   startedAt.UnixMilli(),
				CompletedAt: time.Now().UnixMilli(),
				DurationSec: int64(d / time.Second),
			}
			res, err := svc.Sessions().Record(cmd.Context(), sum)
			if err != nil {
				return fmt.Errorf("record session: %w", err)
			}
			if res.Queued {
				fmt.Println("session saved; sync queued until reconnect")
			} else {
				fmt.Println("session saved and synced")
			}
			return nil
		},
	}
}
