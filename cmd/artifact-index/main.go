package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sha1n/artifact-index/internal/app"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// Version is injected at build time
	Version = "dev"
	// Build is injected at build time
	Build = "unknown"
	// ProgramName is injected at build time
	ProgramName = "artifact-index"
)

func main() {
	runMain(os.Args, os.Exit)
}

func runMain(args []string, exit func(int)) {
	if err := Execute(Version, Build, ProgramName, args[1:]); err != nil {
		exit(1)
	}
}

// Execute is the entry point for the CLI, extracted for testing
func Execute(version, build, programName string, args []string) error {
	return ExecuteWithParams(app.DefaultRunParams(), version, build, programName, args)
}

// ExecuteWithParams runs the CLI with the provided dependencies
func ExecuteWithParams(params app.RunParams, version, build, programName string, args []string) error {
	rootCmd := &cobra.Command{
		Use:     programName,
		Short:   "Artifact Index MCP Server",
		Long:    "Synchronizes remote artifact indexes incrementally and serves searches over them via MCP",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithFlags(cmd.Context(), params, cmd.Flags(), version)
		},
	}

	rootCmd.SetVersionTemplate(`{{.Version}}
`)
	app.RegisterFlags(rootCmd.PersistentFlags())

	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Download the latest changes of the configured remote indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return app.RunUpdate(cmd.Context(), params, cmd.Flags(), app.UpdateOptionsFromFlags(cmd.Flags()))
		},
	}
	app.RegisterUpdateFlags(updateCmd.Flags())

	searchCmd := &cobra.Command{
		Use:   "search",
		Short: "Search the local artifact indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return app.RunSearch(cmd.Context(), params, cmd.Flags(), app.SearchOptionsFromFlags(cmd.Flags()))
		},
	}
	app.RegisterSearchFlags(searchCmd.Flags())

	rootCmd.AddCommand(updateCmd, searchCmd)
	rootCmd.SetArgs(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func runWithFlags(ctx context.Context, params app.RunParams, flags *pflag.FlagSet, version string) error {
	return app.RunWithDeps(ctx, params, flags, version)
}
