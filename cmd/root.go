package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"go.olrik.dev/invigilator/internal/core"
	"go.olrik.dev/invigilator/internal/daemon"
)

// app carries the state shared by the subcommands once the root command has
// loaded the configuration
type app struct {
	configPath string
	verbose    int
	config     *core.Configuration
}

func NewRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "invigilator",
		Short: "Invigilator - exam session integrity monitor",
		Long: `Invigilator opens an exam in a locked-down browser window and watches the
session for idling, focus loss, extra displays and external keyboards.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config-path", core.DefaultConfigPath(), "config path")
	rootCmd.PersistentFlags().CountVarP(&a.verbose, "verbose", "v", "more output, repeat for even more")

	rootCmd.AddCommand(
		NewRunCommand(a),
		NewCheckCommand(a),
		NewVersionCommand(),
	)

	return rootCmd
}

// load reads the configuration file and installs the logger
func (a *app) load() error {
	cfg, err := core.LoadOrDefault(core.ConfigFile(a.configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.ConfigPath = a.configPath
	if a.verbose > cfg.Verbose {
		cfg.Verbose = a.verbose
	}
	a.config = cfg

	daemon.SetupLogging(cfg.Verbose)
	return nil
}
