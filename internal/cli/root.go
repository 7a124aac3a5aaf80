package cli

import (
	"github.com/spf13/cobra"
)

const version = "0.1.0"

// globalFlags are shared by every subcommand
type globalFlags struct {
	cfgFile  string
	logLevel string
}

// NewRootCmd builds the command tree. A fresh tree is built per call so
// flag state never leaks between invocations.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "stepflow",
		Short: "Stepflow - dependency-aware plan execution engine",
		Long: `Stepflow executes multi-step plans whose steps depend on each other.
Independent steps run concurrently, failures propagate to dependents and
every transition is reported as an event.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&flags.cfgFile, "config", "", "config file (default is $HOME/.stepflow/stepflow.yaml)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	rootCmd.AddCommand(
		newRunCmd(flags),
		newValidateCmd(flags),
		newHistoryCmd(flags),
		newScheduleCmd(flags),
	)

	return rootCmd
}

// Execute runs the root command. It is called by main.main().
func Execute() error {
	return NewRootCmd().Execute()
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}
