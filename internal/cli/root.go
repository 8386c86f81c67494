package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/merchload/internal/config"
	"github.com/wesleyorama2/merchload/internal/loadtest/engine"
)

var version = "0.1.0"

// Exit codes.
const (
	ExitOK               = 0
	ExitFatal            = 1
	ExitThresholdsFailed = 99
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	logLevel string
	envFile  string
	logger   *slog.Logger
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:     "merchload",
		Short:   "Load harness for the merch shop API",
		Version: version,
		Long: `merchload drives synthetic traffic against a merch shop service that exposes
account info, item purchases and coin transfers. Virtual users ramp up and down
through a staged profile, each picking a weighted action per iteration, and the
run is gated on failed-request rate and latency thresholds.

The target and dataset come from the environment:
  APPTEST_URL              base URL (default http://127.0.0.1:8080)
  APPTEST_USER_FILE        absolute path to the users JSON file
  APPTEST_AUTH_TOKEN_FILE  absolute path to the auth token JSON file`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), opts.logLevel)
			if err != nil {
				return err
			}
			opts.logger = logger
			return config.LoadEnvFile(opts.envFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "Dotenv file to load (default .env if present)")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newProfileCmd(opts))
	return cmd
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	cmd := NewRootCmd()
	err := cmd.ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return ExitCode(err)
}

// ExitCode maps a command error onto the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var tfe *engine.ThresholdsFailedError
	if errors.As(err, &tfe) {
		return ExitThresholdsFailed
	}
	return ExitFatal
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
