package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"go.olrik.dev/invigilator/internal/core"
	"go.olrik.dev/invigilator/internal/integrity"
	"go.olrik.dev/invigilator/internal/platform/bluetooth"
	"go.olrik.dev/invigilator/internal/platform/usb"
	"go.olrik.dev/invigilator/internal/platform/x11"
)

const (
	formatText = "text"
	formatJSON = "json"
)

func NewCheckCommand(a *app) *cobra.Command {
	var format string

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Run a single detector check and print the result",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			return validateFormat(format)
		},
	}
	checkCmd.PersistentFlags().StringVarP(&format, "format", "f", formatText, "output format (text or json)")

	displaysCmd := &cobra.Command{
		Use:   "displays",
		Short: "Classify the connected displays",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			displays, err := x11.Connect(slog.Default().With("component", "x11"))
			if err != nil {
				return fmt.Errorf("failed to connect to display server: %w", err)
			}
			defer displays.Close()

			list, err := displays.ListDisplays()
			if err != nil {
				return err
			}
			return writeDisplayReport(cmd.OutOrStdout(), format, list)
		},
	}

	keyboardsCmd := &cobra.Command{
		Use:   "keyboards",
		Short: "Look for external wired and wireless keyboards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			verdict := checkKeyboards(cmd.Context(), a.config,
				usb.NewSysfs(a.config.Peripherals.SysfsRoot),
				bluetooth.NewDefault(slog.Default().With("component", "bluetooth")))
			return writeKeyboardReport(cmd.OutOrStdout(), format, verdict)
		},
	}

	checkCmd.AddCommand(displaysCmd, keyboardsCmd)
	return checkCmd
}

// checkKeyboards runs one keyboard check with the configured deny list and
// timeouts. Nothing is sent to a renderer.
func checkKeyboards(ctx context.Context, cfg *core.Configuration, wired integrity.DeviceEnumerator, wireless integrity.WirelessQuery) integrity.KeyboardVerdict {
	pc := cfg.MonitorConfig(nil).Peripheral
	pc.Logger = slog.Default().With("component", "peripheral")
	detector := integrity.NewPeripheralDetector(pc, wired, wireless, nil, nil, nil)
	return detector.CheckAll(ctx)
}

func validateFormat(format string) error {
	switch format {
	case formatText, formatJSON:
		return nil
	}
	return fmt.Errorf("unknown format %q, expected %s or %s", format, formatText, formatJSON)
}

type displayReport struct {
	Topology string              `json:"topology"`
	Displays []integrity.Display `json:"displays"`
}

func writeDisplayReport(w io.Writer, format string, displays []integrity.Display) error {
	report := displayReport{
		Topology: integrity.Classify(displays).String(),
		Displays: displays,
	}
	if report.Displays == nil {
		report.Displays = []integrity.Display{}
	}

	if format == formatJSON {
		return writeJSON(w, report)
	}

	fmt.Fprintf(w, "Topology: %s\n", report.Topology)
	for i, d := range displays {
		fmt.Fprintf(w, "  %d: %dx%d (scale %g)\n", i+1, d.WidthPx, d.HeightPx, d.ScaleFactor)
	}
	return nil
}

type keyboardReport struct {
	integrity.KeyboardVerdict
	Connected bool `json:"connected"`
}

func writeKeyboardReport(w io.Writer, format string, verdict integrity.KeyboardVerdict) error {
	report := keyboardReport{KeyboardVerdict: verdict, Connected: verdict.KeyboardConnected()}

	if format == formatJSON {
		return writeJSON(w, report)
	}

	fmt.Fprintf(w, "Wired keyboard:    %s\n", yesNo(verdict.WiredPresent))
	fmt.Fprintf(w, "Wireless keyboard: %s\n", yesNo(verdict.WirelessPresent))
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
