// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blinklabs-io/privabuild"
	"github.com/blinklabs-io/privabuild/internal/config"
	"github.com/blinklabs-io/privabuild/internal/node"
	"github.com/blinklabs-io/privabuild/internal/version"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
)

const (
	programName = "privabuild"
)

func slogPrintf(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...),
		"component", programName,
	)
}

var (
	globalFlags = struct {
		debug         bool
		tracing       bool
		tracingStdout bool
	}{}
	configFile string
)

func commonRun() *slog.Logger {
	// Configure logger
	logLevel := slog.LevelInfo
	addSource := false
	if globalFlags.debug {
		logLevel = slog.LevelDebug
		addSource = true
	}
	logger := slog.New(
		slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			AddSource: addSource,
			Level:     logLevel,
		}),
	)
	slog.SetDefault(logger)
	// Configure max processes with our logger wrapper, toss undo func
	_, err := maxprocs.Set(maxprocs.Logger(slogPrintf))
	if err != nil {
		// If we hit this, something really wrong happened
		slog.Error(err.Error())
		os.Exit(1)
	}
	logger.Debug(
		"version: "+version.GetVersionString(),
		"component", programName,
	)
	return logger
}

// startTracing installs the tracer provider when enabled. The returned
// function is always safe to call.
func startTracing(ctx context.Context, cfg *config.Config, logger *slog.Logger) func() {
	if !cfg.Tracing && !cfg.TracingStdout {
		return func() {}
	}
	shutdown, err := privabuild.SetupTracing(ctx, cfg.TracingStdout)
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		return func() {}
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.Error("failed to flush traces", "error", err)
		}
	}
}

// withNode builds a node, runs fn against it and releases it. Failures are
// logged in full and reported to the user as a single message.
func withNode(
	cmd *cobra.Command,
	fn func(ctx context.Context, n *node.Node) error,
	opts ...node.Option,
) {
	cfg := config.FromContext(cmd.Context())
	if cfg == nil {
		slog.Error("no config found in context")
		os.Exit(1)
	}
	logger := commonRun()
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	stopTracing := startTracing(ctx, cfg, logger)
	n, err := node.New(cfg, logger, opts...)
	if err == nil {
		err = fn(ctx, n)
		err = errors.Join(err, n.Stop())
	}
	stopTracing()
	stop()
	if err != nil {
		logger.Error(err.Error(), "component", programName)
		fmt.Fprintln(os.Stderr, privabuild.UserMessage(err))
		os.Exit(1)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	rootCmd := &cobra.Command{
		Use:   programName,
		Short: "Confidential build submissions sealed to content storage and an on-chain registry",
	}

	// Global flags
	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVar(&configFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().
		BoolVar(&globalFlags.tracing, "tracing", false, "export traces over OTLP/HTTP")
	rootCmd.PersistentFlags().
		BoolVar(&globalFlags.tracingStdout, "tracing-stdout", false, "print traces to stdout")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Override config with command line flags
		if globalFlags.tracing {
			cfg.Tracing = true
		}
		if globalFlags.tracingStdout {
			cfg.TracingStdout = true
		}

		cmd.SetContext(config.WithContext(cmd.Context(), cfg))
		return nil
	}

	// Subcommands
	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(devCommand())
	rootCmd.AddCommand(submitCommand())
	rootCmd.AddCommand(discloseCommand())
	rootCmd.AddCommand(grantCommand())
	rootCmd.AddCommand(revokeCommand())
	rootCmd.AddCommand(listCommand())
	rootCmd.AddCommand(keygenCommand())
	rootCmd.AddCommand(versionCommand())

	// Execute cobra command
	if err := rootCmd.Execute(); err != nil {
		// NOTE: we purposely don't display the error, since cobra will have already displayed it
		os.Exit(1)
	}
}
