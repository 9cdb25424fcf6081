package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quickvox/quickvox/internal/controller"
	"github.com/quickvox/quickvox/internal/lockfile"
	"github.com/quickvox/quickvox/internal/pipeline"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the current recording",
	Long: `Stop signals the recording worker and waits for it to save the audio and
exit. If the worker does not exit within the grace period it is terminated
forcefully, which is reported as an error because the recording may be
incomplete.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop()
	},
}

func runStop() error {
	p := pipeline.FromConfig(cfg.Pipeline)

	res, err := controller.Stop(cfg)
	if err != nil {
		if errors.Is(err, lockfile.ErrNotLocked) {
			return fmt.Errorf("no recording in progress")
		}
		p.NotifyStatus("error", err.Error())
		return err
	}

	switch res.Outcome {
	case controller.StoppedCleanly:
		fmt.Println("recording stopped")
		return p.Handle(res.Entry.AudioFilePath)
	case controller.StoppedNoArtifact:
		p.NotifyStatus("error", "recording was not saved (too short or save failed)")
		return fmt.Errorf("worker stopped but saved no audio (recording too short, or the save failed)")
	case controller.WasStale:
		p.NotifyStatus("error", "previous recording worker had died; lock reclaimed")
		return fmt.Errorf("worker (pid %d) was already dead, stale lock reclaimed", res.Entry.OwnerPID)
	default:
		p.NotifyStatus("error", "recording worker had to be killed; audio may be lost")
		return fmt.Errorf("worker (pid %d) did not stop within %s and was killed; audio may be incomplete",
			res.Entry.OwnerPID, cfg.Stop.GracePeriod)
	}
}
