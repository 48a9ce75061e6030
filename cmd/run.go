package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"go.olrik.dev/invigilator/internal/daemon"
)

// ExitCodeError carries a non-zero exit status out of a command
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

func NewRunCommand(a *app) *cobra.Command {
	var examURL string
	var headless bool
	var timeline bool

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start an exam session",
		Long: `Open the exam window and monitor the session until the window is closed,
the process is interrupted or the session is locked down.

A session ended by lockdown exits with status 3.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.config
			if cmd.Flags().Changed("url") {
				cfg.ExamURL = examURL
			}
			if cmd.Flags().Changed("headless") {
				cfg.Window.Headless = headless
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d := daemon.New(cfg, nil)
			if timeline {
				d.TimelineOut = cmd.OutOrStdout()
				d.NoColor = !daemon.IsTerminal(os.Stdout)
			}

			code, err := d.Run(ctx)
			if err != nil {
				return err
			}
			if code != 0 {
				return &ExitCodeError{Code: code}
			}
			return nil
		},
	}
	runCmd.Flags().StringVar(&examURL, "url", "", "exam URL, overrides exam_url from the config file")
	runCmd.Flags().BoolVar(&headless, "headless", false, "run the browser without a window")
	runCmd.Flags().BoolVarP(&timeline, "timeline", "t", false, "print session events to stdout")

	return runCmd
}
