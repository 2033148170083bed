// commands.go contains the cobra command definitions and flag wiring. Each
// builder creates one command and routes it to its handler.
package main

import (
	"github.com/spf13/cobra"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		authToken  string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Perch control-plane server",
		Long: `Start the websocket control plane over the configuration document.

The server exposes config.get/config.patch, secrets.status, and the wizard
session methods on /ws, Prometheus metrics on /metrics, and a health probe
on /healthz. Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Serve the default config on loopback
  perch serve

  # Require a bearer token from clients
  perch serve --addr 127.0.0.1:8790 --token s3cret`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), addr, authToken, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8790", "Listen address")
	cmd.Flags().StringVar(&authToken, "token", "", "Bearer token required from clients (empty disables auth)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func buildOnboardCmd() *cobra.Command {
	var (
		configPath string
		flowName   string
		workspace  string
	)

	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Run guided setup in the terminal",
		Long: `Walk a setup flow interactively. Answers marked sensitive are read
without echo and stored in the OS credential manager, never in the file.

Starting a guided run discards any other running wizard session.`,
		Example: `  # Full quickstart
  perch onboard

  # Add one channel to an existing config
  perch onboard --flow channel`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard(cmd.Context(), resolveConfigPath(configPath), flowName, workspace)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	cmd.Flags().StringVar(&flowName, "flow", "", "Flow to run (default quickstart)")
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace path to preseed")
	return cmd
}

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and patch the configuration document",
	}
	cmd.AddCommand(buildConfigGetCmd(), buildConfigPatchCmd(), buildConfigPathCmd())
	return cmd
}

func buildConfigGetCmd() *cobra.Command {
	var configPath string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print the document with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigGet(cmd, resolveConfigPath(configPath), asJSON)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of YAML")
	return cmd
}

func buildConfigPatchCmd() *cobra.Command {
	var (
		configPath string
		patchFile  string
		baseHash   string
		note       string
	)
	cmd := &cobra.Command{
		Use:   "patch",
		Short: "Deep-merge a patch into the document",
		Long: `Apply a patch document through the hash-gated write path. The patch is
deep-merged (sequences replace), plaintext credentials are externalized, and
the result is validated before anything touches disk.

Without --base-hash the current document hash is used, which forfeits the
concurrent-edit check.`,
		Example: `  # Patch from a file
  perch config patch --file delta.yaml

  # Patch from stdin against a known base
  echo 'server: {port: 9000}' | perch config patch --file - --base-hash <hash>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigPatch(cmd, resolveConfigPath(configPath), patchFile, baseHash, note)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	cmd.Flags().StringVarP(&patchFile, "file", "f", "-", "Patch file (- for stdin)")
	cmd.Flags().StringVar(&baseHash, "base-hash", "", "Document hash the patch was computed against")
	cmd.Flags().StringVar(&note, "note", "", "Audit note recorded with the patch")
	return cmd
}

func buildConfigPathCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Print the resolved configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println(resolveConfigPath(configPath))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	return cmd
}

func buildSecretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage stored secrets and references",
	}
	cmd.AddCommand(
		buildSecretsSetCmd(),
		buildSecretsGetCmd(),
		buildSecretsRmCmd(),
		buildSecretsStatusCmd(),
		buildSecretsExternalizeCmd(),
	)
	return cmd
}

func buildSecretsSetCmd() *cobra.Command {
	var value string
	cmd := &cobra.Command{
		Use:   "set <ref>",
		Short: "Store a secret under a reference",
		Long: `Store a secret value under a secret:// reference. Without --value the
value is prompted for without echo.`,
		Example: `  perch secrets set secret://perch/telegram/bot_token`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSecretsSet(cmd, args[0], value)
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "Secret value (prompted when omitted)")
	return cmd
}

func buildSecretsGetCmd() *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "get <ref>",
		Short: "Check a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSecretsGet(cmd, args[0], reveal)
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print the secret value instead of its presence")
	return cmd
}

func buildSecretsRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <ref>",
		Short: "Delete a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSecretsRm(cmd, args[0])
		},
	}
}

func buildSecretsStatusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show store backend and per-reference presence",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSecretsStatus(cmd, resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	return cmd
}

func buildSecretsExternalizeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "externalize",
		Short: "Move plaintext credentials from the file into the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSecretsExternalize(cmd, resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	return cmd
}

func buildDoctorCmd() *cobra.Command {
	var configPath string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose configuration and secret store health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, resolveConfigPath(configPath), asJSON)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the report as JSON")
	return cmd
}
