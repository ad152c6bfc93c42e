package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/homeostat/internal/logging"
)

// #region main

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(report(os.Stderr, err))
	}
}

// report prints err and returns the process exit code: an exitError's own
// code, otherwise 2.
func report(w io.Writer, err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.msg != "" {
			fmt.Fprintln(w, ee.msg)
		}
		return ee.code
	}
	fmt.Fprintf(w, "error: %v\n", err)
	return 2
}

// #endregion main

// #region root

// app carries the state shared by every subcommand.
type app struct {
	logLevel string
	noColor  bool
	logger   *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{logger: logging.Discard()}
	root := &cobra.Command{
		Use:           "homeostat",
		Short:         "Drive named variables to their setpoints with plain-language rules",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := logging.ParseLevel(a.logLevel)
			if err != nil {
				return err
			}
			w := cmd.ErrOrStderr()
			a.logger = logging.NewLogger(w, level, !a.noColor && isTerminal(w))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", envOr("HOMEOSTAT_LOG_LEVEL", "info"),
		"log level: debug shows every perturbation and rule hit")
	root.PersistentFlags().BoolVar(&a.noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored logs")

	root.AddCommand(
		newRunCmd(a),
		newReplayCmd(a),
		newInspectCmd(a),
		newExportCmd(a),
		newServeCmd(a),
	)
	return root
}

// #endregion root

// #region helpers

// exitError ends the process with a specific code.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string {
	if e.msg == "" {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.msg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion helpers
