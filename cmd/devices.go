package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quickvox/quickvox/internal/capture"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available audio input devices",
	Long: `List the input devices PortAudio can see. Use a fragment of a device
name as audio.device in the config file to record from it; an empty
selector uses the default device.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := capture.ListInputDevices()
		if err != nil {
			return fmt.Errorf("failed to list input devices: %w", err)
		}
		if len(names) == 0 {
			fmt.Println("no input devices found")
			return nil
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}
