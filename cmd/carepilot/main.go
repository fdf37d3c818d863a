// CarePilot is a personal healthcare assistant service.
//
// It serves an HTTP and WebSocket API backed by a tool-calling agent
// over the user's calendar, daily check-ins and reference documents.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	carepilot serve                  Start the API server
//	carepilot ask <question>         Ask a single question as a user
//	carepilot ingest <file>...       Add reference documents
//	carepilot generate [--user u]    Pre-generate today's questions and dashboards
//	carepilot version                Print version and build information
//	carepilot -o json version        Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nugget/carepilot/internal/buildinfo"
	"github.com/nugget/carepilot/internal/config"
)

// main only builds the OS-level environment and delegates to run, so
// the whole command surface can be driven from tests.
func main() {
	if err := run(context.Background(), os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// globals are the persistent flags shared by every command.
type globals struct {
	configPath string
	output     string // text or json
}

// run is the real entry point. Structured logs go to stdout and command
// output to stdout; stderr receives cobra's usage errors.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	root := newRootCommand(stdout)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func newRootCommand(stdout io.Writer) *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "carepilot",
		Short: "Personal healthcare assistant",
		Long: `CarePilot keeps a calendar, asks daily check-in questions, plans meals and
answers health questions through a tool-calling language model agent.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if g.output != "text" && g.output != "json" {
				return fmt.Errorf("unknown output format: %q (expected text or json)", g.output)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "path to config file (default: auto-discover)")
	root.PersistentFlags().StringVarP(&g.output, "output", "o", "text", "output format: text or json")

	root.AddCommand(
		newServeCommand(g, stdout),
		newAskCommand(g, stdout),
		newIngestCommand(g, stdout),
		newGenerateCommand(g, stdout),
		newVersionCommand(g, stdout),
	)
	return root
}

func newVersionCommand(g *globals, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return runVersion(stdout, g.output)
		},
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// loadConfig reads .env, then the YAML config, and returns it with the
// path it came from.
func loadConfig(explicit string) (*config.Config, string, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, "", err
	}
	path, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, path, nil
}

// newLogger builds the configured logger. Validate has already checked
// the level, so a parse failure cannot happen here.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return config.NewLogger(w, level, cfg.LogFormat)
}

// setup loads config and builds the app for commands that need it.
func setup(g *globals, stdout io.Writer) (*app, error) {
	cfg, path, err := loadConfig(g.configPath)
	if err != nil {
		return nil, err
	}
	logger := newLogger(stdout, cfg)
	logger.Info("config loaded", "path", path, "data_dir", cfg.DataDir, "model", cfg.Models.Default)
	return newApp(cfg, logger)
}
