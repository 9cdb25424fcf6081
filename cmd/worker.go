package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quickvox/quickvox/internal/capture"
	"github.com/quickvox/quickvox/internal/pipeline"
	"github.com/quickvox/quickvox/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run the recording worker (internal)",
	Hidden: true,
	Run: func(cmd *cobra.Command, args []string) {
		w := worker.New(cfg, capture.OpenPortAudio)

		// The signal path only forwards the request onto the worker's stop
		// channel; every resource-owning step (stream teardown, file write,
		// lock release) runs inside the worker's own loop.
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		go func() {
			for sig := range sigChan {
				slog.Debug("signal received", "signal", sig)
				w.RequestStop()
			}
		}()

		res := w.Run()

		// The worker is detached, so nobody reaps its exit code. Anything
		// short of a clean save is reported to the notification sink here,
		// before the process disappears.
		p := pipeline.FromConfig(cfg.Pipeline)
		switch {
		case res.State == worker.StateSaved && res.Degraded:
			p.NotifyStatus("warning", "recording saved, but the audio stream hung on shutdown; the tail may be missing")
		case res.State != worker.StateSaved && errors.Is(res.Err, capture.ErrTooShort):
			p.NotifyStatus("error", "recording too short, discarded")
		case res.State != worker.StateSaved:
			p.NotifyStatus("error", fmt.Sprintf("recording failed: %v", res.Err))
		}

		os.Exit(res.ExitCode())
	},
}
