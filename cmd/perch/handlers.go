// handlers.go implements the non-interactive command handlers.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/perchbot/perch/internal/config"
	"github.com/perchbot/perch/internal/doctor"
	"github.com/perchbot/perch/internal/gateway"
	"github.com/perchbot/perch/internal/observability"
	"github.com/perchbot/perch/internal/secretref"
	"github.com/perchbot/perch/internal/secretstore"
)

func runServe(ctx context.Context, configPath, addr, authToken string, debug bool) error {
	level := "info"
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: "json",
		Output: os.Stderr,
	})

	logger.Info("starting perch",
		"version", version,
		"commit", commit,
		"config", configPath,
		"addr", addr,
	)

	store := secretstore.Default()
	if !store.Available() {
		logger.Warn("secret store unavailable; credentials will stay in the config file",
			"backend", store.Backend())
	}

	server, err := gateway.NewServer(gateway.Options{
		Addr:        addr,
		AuthToken:   authToken,
		ConfigPath:  configPath,
		SecretStore: store,
		Logger:      logger,
		Metrics:     observability.NewMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return fmt.Errorf("initialize gateway: %w", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return server.Run(runCtx)
}

func runConfigGet(cmd *cobra.Command, configPath string, asJSON bool) error {
	snapshot, err := config.LoadSnapshot(configPath)
	if err != nil {
		return err
	}
	if !snapshot.Exists {
		return fmt.Errorf("no configuration at %s (run `perch onboard`)", configPath)
	}

	redacted := config.RedactSecrets(snapshot.Parsed)
	if asJSON {
		payload := map[string]any{
			"path":   snapshot.Path,
			"hash":   snapshot.Hash,
			"valid":  snapshot.Valid,
			"config": redacted,
		}
		if len(snapshot.Issues) > 0 {
			payload["issues"] = snapshot.Issues
		}
		encoded, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(encoded))
		return nil
	}

	encoded, err := config.MarshalDocument(redacted)
	if err != nil {
		return err
	}
	cmd.Print(string(encoded))
	cmd.Printf("# hash: %s\n", snapshot.Hash)
	for _, issue := range snapshot.Issues {
		cmd.Printf("# issue: %s\n", issue)
	}
	return nil
}

func runConfigPatch(cmd *cobra.Command, configPath, patchFile, baseHash, note string) error {
	var raw []byte
	var err error
	if patchFile == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(patchFile)
	}
	if err != nil {
		return fmt.Errorf("read patch: %w", err)
	}

	manager := config.NewManager(configPath, secretstore.Default(), nil, nil)
	if strings.TrimSpace(baseHash) == "" {
		snapshot, err := manager.Snapshot(cmd.Context())
		if err != nil {
			return err
		}
		baseHash = snapshot.Hash
	}

	result, err := manager.ApplyPatch(cmd.Context(), config.PatchRequest{
		Raw:      string(raw),
		BaseHash: baseHash,
		Note:     note,
	})
	if err != nil {
		return err
	}

	cmd.Printf("applied; new hash %s\n", result.Hash)
	for _, warning := range result.Warnings {
		cmd.Printf("warning: %s\n", warning)
	}
	for _, path := range result.PlaintextPaths {
		cmd.Printf("warning: %s kept a plaintext credential (store unavailable)\n", path)
	}
	if result.RestartRequired {
		cmd.Println("restart required for the change to take effect")
	}
	return nil
}

// parseRefArg accepts the full secret://ns/provider/scope form or the bare
// ns/provider/scope shorthand.
func parseRefArg(arg string) (secretref.Ref, error) {
	if ref, ok := secretref.Parse(arg); ok {
		return ref, nil
	}
	parts := strings.SplitN(arg, "/", 3)
	if len(parts) == 3 {
		return secretref.New(parts[0], parts[1], parts[2])
	}
	return secretref.Ref{}, fmt.Errorf("%w: %q", secretref.ErrInvalidRef, arg)
}

func runSecretsSet(cmd *cobra.Command, refArg, value string) error {
	ref, err := parseRefArg(refArg)
	if err != nil {
		return err
	}
	if value == "" {
		value, err = promptSecret(cmd, fmt.Sprintf("Value for %s", ref))
		if err != nil {
			return err
		}
	}
	if err := secretstore.Default().Set(cmd.Context(), ref, value); err != nil {
		return err
	}
	cmd.Printf("stored %s\n", ref)
	return nil
}

func runSecretsGet(cmd *cobra.Command, refArg string, reveal bool) error {
	ref, err := parseRefArg(refArg)
	if err != nil {
		return err
	}
	value, ok, err := secretstore.Default().Get(cmd.Context(), ref)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no secret stored for %s", ref)
	}
	if reveal {
		cmd.Println(value)
		return nil
	}
	cmd.Printf("%s: present (%d bytes)\n", ref, len(value))
	return nil
}

func runSecretsRm(cmd *cobra.Command, refArg string) error {
	ref, err := parseRefArg(refArg)
	if err != nil {
		return err
	}
	if err := secretstore.Default().Delete(cmd.Context(), ref); err != nil {
		return err
	}
	cmd.Printf("deleted %s\n", ref)
	return nil
}

func runSecretsStatus(cmd *cobra.Command, configPath string) error {
	store := secretstore.Default()
	cmd.Printf("backend:   %s\n", store.Backend())
	cmd.Printf("available: %v\n", store.Available())

	snapshot, err := config.LoadSnapshot(configPath)
	if err != nil {
		return err
	}
	for _, binding := range config.SecretRefs(snapshot.Parsed) {
		status := "unverified"
		if store.Available() {
			present, err := secretstore.Has(cmd.Context(), store, binding.Ref)
			switch {
			case err != nil:
				status = "error: " + err.Error()
			case present:
				status = "present"
			default:
				status = "MISSING"
			}
		}
		cmd.Printf("%s -> %s [%s]\n", binding.Path, binding.Ref, status)
	}
	for _, path := range config.HasPlaintextSecrets(snapshot.Parsed) {
		cmd.Printf("%s holds a PLAINTEXT credential\n", path)
	}
	return nil
}

func runSecretsExternalize(cmd *cobra.Command, configPath string) error {
	snapshot, err := config.LoadSnapshot(configPath)
	if err != nil {
		return err
	}
	if !snapshot.Exists {
		return fmt.Errorf("no configuration at %s", configPath)
	}
	plaintext := config.HasPlaintextSecrets(snapshot.Parsed)
	if len(plaintext) == 0 {
		cmd.Println("nothing to externalize")
		return nil
	}

	store := secretstore.Default()
	if !store.Available() {
		return fmt.Errorf("secret store backend %q is unavailable", store.Backend())
	}

	// An identity patch runs the document through the gate's externalize and
	// validate steps without changing any value.
	manager := config.NewManager(configPath, store, nil, nil)
	result, err := manager.ApplyPatch(cmd.Context(), config.PatchRequest{
		Raw:      snapshot.Raw,
		BaseHash: snapshot.Hash,
		Note:     "secrets externalize",
	})
	if err != nil {
		return err
	}
	for _, path := range plaintext {
		cmd.Printf("externalized %s\n", path)
	}
	cmd.Printf("new hash %s\n", result.Hash)
	return nil
}

func runDoctor(cmd *cobra.Command, configPath string, asJSON bool) error {
	report := doctor.Run(cmd.Context(), configPath, secretstore.Default())

	if asJSON {
		encoded, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(encoded))
	} else {
		cmd.Printf("config: %s\n", report.ConfigPath)
		cmd.Printf("store:  %s\n", report.StoreBackend)
		if len(report.Findings) == 0 {
			cmd.Println("no findings")
		}
		for _, finding := range report.Findings {
			cmd.Printf("[%s] %s: %s\n", finding.Severity, finding.Check, finding.Message)
			if finding.Fix != "" {
				cmd.Printf("         fix: %s\n", finding.Fix)
			}
		}
	}

	if !report.Healthy() {
		return fmt.Errorf("doctor found problems")
	}
	return nil
}
