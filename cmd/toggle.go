package cmd

import (
	"github.com/spf13/cobra"

	"github.com/quickvox/quickvox/internal/lockfile"
)

var toggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Start recording, or stop if one is in progress",
	Long: `Toggle is the hotkey entry point: it starts a recording when none is in
progress and stops the current one otherwise. A stale lock from a crashed
worker counts as "not recording".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		entry, err := lockfile.Inspect(cfg.LockPath())
		if err == nil && lockfile.IsOwnerAlive(entry) {
			return runStop()
		}
		return startCmd.RunE(cmd, args)
	},
}
