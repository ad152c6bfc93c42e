package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/lmittmann/tint"
)

// #region logger
// NewLogger returns a slog logger writing human-readable lines to w.
// color toggles ANSI colouring (disable it when w is not a terminal).
func NewLogger(w io.Writer, level slog.Level, color bool) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05",
		NoColor:    !color,
	}))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ParseLevel maps "debug", "info", "warn" or "error" to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// #endregion logger

// #region emit
// Emit writes one event to logger. Perturbations and rule hits go out at
// debug, unmanaged ticks at info, terminal events at info.
func Emit(logger *slog.Logger, e Event) {
	attrs := []slog.Attr{
		slog.Int("iteration", e.Iteration),
		slog.String("kind", string(e.Kind)),
	}
	level := slog.LevelInfo
	switch e.Kind {
	case KindPerturbation:
		level = slog.LevelDebug
		attrs = append(attrs,
			slog.String("variable", e.Variable),
			slog.Float64("delta", e.Delta),
			slog.Float64("after", e.After),
		)
	case KindRuleApplied:
		level = slog.LevelDebug
		attrs = append(attrs,
			slog.String("variable", e.Variable),
			slog.Int("rule", e.RuleIndex),
			slog.Float64("delta", e.Delta),
			slog.Float64("after", e.After),
		)
		if e.Label != "" {
			attrs = append(attrs, slog.String("using", e.Label))
		}
	}
	logger.LogAttrs(context.Background(), level, e.String(), attrs...)
}

// #endregion emit
