package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/quickvox/quickvox/internal/lockfile"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current recording state",
	RunE: func(cmd *cobra.Command, args []string) error {
		entry, err := lockfile.Inspect(cfg.LockPath())
		if err != nil {
			if errors.Is(err, lockfile.ErrNotLocked) {
				fmt.Println("idle")
				return nil
			}
			return err
		}

		out, err := yaml.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to render lock entry: %w", err)
		}

		if lockfile.IsOwnerAlive(entry) {
			fmt.Println("recording")
		} else {
			fmt.Println("stale lock (worker dead)")
		}
		fmt.Print(string(out))
		return nil
	},
}
