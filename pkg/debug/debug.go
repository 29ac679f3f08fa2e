// Package debug provides category-gated debug logging.
//
// Two orthogonal switches control output. WANDLER_DEBUG (or the
// logging.debug config key) selects WHICH subsystems emit debug
// records; WANDLER_LOG_LEVEL (or logging.level) selects HOW verbose
// they are. Wire-level dumps need both: the category enabled and the
// level at TRACE.
//
//	debug.Log("providers", "request", "method", "POST", "url", url)
//	if debug.Enabled("streaming") { /* expensive formatting */ }
//
// Levels: ERROR, WARN, INFO, DEBUG, TRACE.
package debug

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
)

// LevelTrace sits below slog.LevelDebug. At TRACE the provider dumps
// full untruncated wire bodies and SSE frames.
const LevelTrace = slog.LevelDebug - 4

// knownCategories is the fixed set of subsystems that emit debug
// records. Init warns about names outside it, which catches typos in
// WANDLER_DEBUG that would otherwise silently select nothing.
var knownCategories = []string{
	"auth",
	"config",
	"engine",
	"providers",
	"storage",
	"streaming",
	"supervisor",
	"transport",
}

// enabled holds the active category set. Written by Init before any
// goroutines start, read-only afterwards.
var enabled map[string]bool

func init() {
	// Pick up the environment immediately so debug output from config
	// loading itself is not lost; Init re-applies with config values.
	enabled = parseCategories(os.Getenv("WANDLER_DEBUG"), false)
}

// Init applies the category and level settings. Environment variables
// win over the config values so a single run can be made verbose
// without touching files.
func Init(configCategories string, configLevel string) {
	cats := os.Getenv("WANDLER_DEBUG")
	if cats == "" {
		cats = configCategories
	}
	enabled = parseCategories(cats, true)

	level := os.Getenv("WANDLER_LOG_LEVEL")
	if level == "" {
		level = configLevel
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})))
}

// Enabled reports whether debug output is active for the category.
func Enabled(category string) bool {
	return enabled["all"] || enabled[category]
}

// Log emits a debug record for the category; a no-op when the
// category is off.
func Log(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// Trace emits a trace-level record for the category. Visible only at
// WANDLER_LOG_LEVEL=TRACE.
func Trace(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Log(nil, LevelTrace, msg, append([]any{"debug", category}, args...)...)
}

// TraceIsEnabled reports whether trace output is active for the
// category. Callers use it to skip building large dump strings.
func TraceIsEnabled(category string) bool {
	return Enabled(category) && slog.Default().Enabled(nil, LevelTrace)
}

// Raw writes text straight to stderr with no slog framing, for
// copy-paste-ready output like full HTTP bodies and SSE frames.
// Emitted only when the category is enabled and the level is TRACE.
func Raw(category string, text string) {
	if !TraceIsEnabled(category) {
		return
	}
	fmt.Fprintln(os.Stderr, text)
}

// ParseLevel converts a level name to a slog.Level. Unknown names and
// the empty string fall back to INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Categories returns the enabled categories in sorted order, for
// status reporting.
func Categories() []string {
	result := make([]string, 0, len(enabled))
	for k := range enabled {
		result = append(result, k)
	}
	slices.Sort(result)
	return result
}

// Truncate shortens s to at most maxLen characters, marking the cut
// with "...".
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func parseCategories(s string, warnUnknown bool) map[string]bool {
	m := make(map[string]bool)
	if s == "" {
		return m
	}
	for _, cat := range strings.Split(s, ",") {
		cat = strings.TrimSpace(strings.ToLower(cat))
		if cat == "" {
			continue
		}
		if warnUnknown && cat != "all" && !slices.Contains(knownCategories, cat) {
			slog.Warn("unknown debug category", "category", cat, "known", knownCategories)
		}
		m[cat] = true
	}
	return m
}
