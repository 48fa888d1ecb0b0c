// Command zenus executes natural-language commands through a translate,
// schedule, execute pipeline with transactional rollback.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"zenus/internal/logging"
	"zenus/internal/oracle"
	"zenus/internal/orchestrator"
	"zenus/internal/sandbox"
)

// Exit codes.
const (
	exitOK               = 0
	exitExecutionFailure = 1
	exitTranslation      = 2
	exitSandbox          = 3
	exitUserAbort        = 4
	exitMaxIterations    = 5
)

var (
	// Global flags
	verbose bool

	// Logger for CLI-level events; component logs go to the categorized
	// file logger under the state root.
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "zenus",
	Short: "zenus - natural-language command execution",
	Long: `zenus turns natural-language commands into validated, sandboxed tool
invocations. Every mutation is recorded with its inverse so a transaction can
be rolled back, repeated commands are served from an intent cache, and
complex goals run through an iterative plan-act-observe loop.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose CLI logging")
	rootCmd.AddCommand(executeCmd, rollbackCmd, statusCmd, explainCmd)
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
	}
	os.Exit(exitCodeFor(err))
}

// exitCodeFor maps error taxonomy to the documented exit codes.
func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	var translation *oracle.TranslationError
	switch {
	case errors.Is(err, orchestrator.ErrUserAbort):
		return exitUserAbort
	case errors.Is(err, orchestrator.ErrMaxIterations):
		return exitMaxIterations
	case sandbox.IsViolation(err):
		return exitSandbox
	case errors.As(err, &translation):
		return exitTranslation
	}
	return exitExecutionFailure
}
