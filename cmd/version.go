package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"go.olrik.dev/invigilator/internal/core"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "invigilator %s\n", core.FormatVersion(core.Version))
		},
	}
}
