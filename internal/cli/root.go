package cli

import (
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/me/jobsys/internal/logging"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string
	flagNoColor   bool

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking JOBSYS_SERVER first.
func defaultServer() string {
	if s := os.Getenv("JOBSYS_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the jobsys CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "jobsys",
		Short: "jobsys: dependency-aware job scheduler client",
		Long:  "jobsys submits typed jobs to a jobsys daemon, manages its worker pool, and retires finished jobs.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flagDebug {
				flagLogLevel = "debug"
			}
			level, err := logging.ParseLevel(flagLogLevel)
			if err != nil {
				return err
			}
			if flagNoColor {
				color.NoColor = true
			}
			logger = logging.NewLogger(level, flagLogFormat)
			client = NewClient(flagServer, logger)
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "jobsys server URL (or JOBSYS_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")
	root.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output")

	root.AddCommand(
		newSubmitCmd(),
		newStatusCmd(),
		newOutputCmd(),
		newRetireCmd(),
		newSummaryCmd(),
		newTypesCmd(),
		newWorkersCmd(),
		newPipelineCmd(),
		newResultsCmd(),
		newLogLevelCmd(),
		newShellCmd(),
	)

	return root
}
