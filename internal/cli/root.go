package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func Execute() error {
	return ExecuteWithVersion("dev")
}

func ExecuteWithVersion(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "offsync",
		Short:         "Offline-capable sync sidecar: asset cache, durable mutation queue, countdown sessions",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c",
		getenvDefault("OFFSYNC_CONFIG", "offsync.yaml"), "path to offsync.yaml")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newQueueCmd())
	cmd.AddCommand(newTimerCmd())
	return cmd
}

func getenvDefault(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}
