// Package main provides the CLI entry point for the Perch configuration
// lifecycle daemon.
//
// Perch keeps a workspace configuration document honest: credentials are
// moved out of the file into the OS credential manager, edits go through a
// hash-gated patch endpoint, and first-run setup happens through resumable
// wizard flows over a websocket control plane.
//
// # Basic Usage
//
// Start the server:
//
//	perch serve --config ~/.perch/perch.yaml
//
// Run first-time setup in the terminal:
//
//	perch onboard
//
// Check configuration and secret health:
//
//	perch doctor
//
// # Environment Variables
//
//   - PERCH_CONFIG: Path to the configuration file (default: ~/.perch/perch.yaml)
//   - PERCH_SECRET_STORE: Secret store backend override ("keyring", "none")
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/perchbot/perch/internal/observability"
	"github.com/perchbot/perch/internal/secretstore"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigName = "perch.yaml"

func main() {
	secretstore.SetEnvFunc(os.Getenv)

	logger := observability.NewLogger(observability.LogConfig{
		Level:  "info",
		Format: "json",
		Output: os.Stderr,
	})

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "perch",
		Short: "Perch - secure configuration lifecycle daemon",
		Long: `Perch manages a workspace configuration document end to end: secret
externalization into the OS credential manager, hash-gated patching, and
guided setup wizards served over a websocket control plane.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildOnboardCmd(),
		buildConfigCmd(),
		buildSecretsCmd(),
		buildDoctorCmd(),
	)
	return rootCmd
}

func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("PERCH_CONFIG")); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(home, ".perch", defaultConfigName)
}
