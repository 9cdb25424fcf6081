package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/quickvox/quickvox/internal/controller"
	"github.com/quickvox/quickvox/internal/pipeline"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a recording worker",
	Long: `Start spawns a detached worker process that records from the microphone
until stopped. It fails if a recording is already in progress; a lock left
behind by a crashed worker is reclaimed automatically.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := controller.Start(cfg, cfgFile)
		if err != nil {
			pipeline.FromConfig(cfg.Pipeline).NotifyStatus("error", err.Error())
			return err
		}
		slog.Info("recording", "pid", res.PID, "output", res.AudioFilePath)
		fmt.Printf("recording (pid %d)\n", res.PID)
		return nil
	},
}
