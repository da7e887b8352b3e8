// Package cmd wires the engine facade into a cobra/viper CLI, following
// the teacher's pkg/cmd: InitCommand builds the root command and
// subcommands, cmdFlags carries persistent flags bound to environment
// variables via viper, and each operation gets its own RunE-backed
// subcommand file.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// BuildInfo holds build metadata injected at compile time.
type BuildInfo struct {
	Version string
	AppName string
}

type cmdFlags struct {
	version string
	appName string

	LogLevel   string `mapstructure:"log_level"`
	TextFormat bool   `mapstructure:"log_text"`

	Root           string `mapstructure:"blz_root"`
	DefaultLimit   int    `mapstructure:"blz_default_limit"`
	LanguageFilter bool   `mapstructure:"blz_language_filter"`
	SnippetLines   int    `mapstructure:"blz_snippet_lines"`
	ScorePrecision int    `mapstructure:"blz_score_precision"`
	OutputFormat   string `mapstructure:"blz_output_format"`

	GuardIntervalMS int  `mapstructure:"blz_parent_guard_interval_ms"`
	GuardTimeoutMS  int  `mapstructure:"blz_parent_guard_timeout_ms"`
	DisableGuard    bool `mapstructure:"blz_disable_guard"`

	NoColor bool `mapstructure:"no_color"`
}

// InitCommand builds the root command and every subcommand, following the
// teacher's InitCommand shape: persistent flags bound to environment
// variables via viper.BindEnv, then one cmd.AddCommand call per
// subcommand.
func InitCommand(build BuildInfo) *cobra.Command {
	flags := &cmdFlags{version: build.Version, appName: build.AppName}

	root := &cobra.Command{
		Use:   flags.appName,
		Short: "Search and retrieve llms.txt documentation bundles",
		Long:  "blz indexes llms.txt-style documentation bundles and serves heading-scoped full-text search and exact-citation retrieval over them.",
	}

	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&flags.TextFormat, "log-text", true, "log in text format, otherwise JSON")
	root.PersistentFlags().StringVar(&flags.Root, "root", "", "override the data root (BLZ_ROOT)")
	root.PersistentFlags().IntVar(&flags.DefaultLimit, "default-limit", 10, "default search result limit")
	root.PersistentFlags().BoolVar(&flags.LanguageFilter, "language-filter", false, "default language filter for new sources")
	root.PersistentFlags().IntVar(&flags.SnippetLines, "snippet-lines", 3, "snippet window height")
	root.PersistentFlags().IntVar(&flags.ScorePrecision, "score-precision", 4, "digits of precision in JSON scores")
	root.PersistentFlags().StringVar(&flags.OutputFormat, "output", "text", "output format: json, jsonl, or text")
	root.PersistentFlags().IntVar(&flags.GuardIntervalMS, "parent-guard-interval-ms", 500, "parent-process poll interval")
	root.PersistentFlags().IntVar(&flags.GuardTimeoutMS, "parent-guard-timeout-ms", 0, "parent-process guard timeout (not read by the watchdog)")
	root.PersistentFlags().BoolVar(&flags.DisableGuard, "disable-guard", false, "disable the parent-process watchdog")
	root.PersistentFlags().BoolVar(&flags.NoColor, "no-color", false, "disable ANSI color in text output")

	envBindings := map[string]string{
		"log_level":                    "log_level",
		"log_text":                     "log_text",
		"blz_root":                     "BLZ_ROOT",
		"blz_default_limit":            "BLZ_DEFAULT_LIMIT",
		"blz_language_filter":          "BLZ_LANGUAGE_FILTER",
		"blz_snippet_lines":            "BLZ_SNIPPET_LINES",
		"blz_score_precision":          "BLZ_SCORE_PRECISION",
		"blz_output_format":            "BLZ_OUTPUT_FORMAT",
		"blz_parent_guard_interval_ms": "BLZ_PARENT_GUARD_INTERVAL_MS",
		"blz_parent_guard_timeout_ms":  "BLZ_PARENT_GUARD_TIMEOUT_MS",
		"blz_disable_guard":            "BLZ_DISABLE_GUARD",
		"no_color":                     "NO_COLOR",
	}

	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			slog.Error("failed to bind env var", "name", key, "error", err)
		}
	}

	viper.AutomaticEnv()

	if err := viper.Unmarshal(flags); err != nil {
		slog.Error("failed to unmarshal env vars", "error", err)
	}

	root.AddCommand(
		newAddCmd(flags),
		newRemoveCmd(flags),
		newListCmd(flags),
		newRefreshCmd(flags),
		newSearchCmd(flags),
		newGetCmd(flags),
		newTOCCmd(flags),
		newInfoCmd(flags),
		newPruneCmd(flags),
		newServeHealthCmd(flags),
	)

	return root
}
