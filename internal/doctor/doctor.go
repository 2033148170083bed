// Package doctor runs offline health checks over the configuration document
// and the secret store: parse and schema problems, plaintext credentials,
// references whose secrets are gone, and hazardous settings.
package doctor

import (
	"context"
	"fmt"
	"time"

	"github.com/perchbot/perch/internal/config"
	"github.com/perchbot/perch/internal/secretref"
	"github.com/perchbot/perch/internal/secretstore"
)

// Severity ranks a finding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Finding is one diagnosed condition with a suggested fix where one exists.
type Finding struct {
	Check    string   `json:"check"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Fix      string   `json:"fix,omitempty"`
}

// Report aggregates findings from one run.
type Report struct {
	ConfigPath   string    `json:"configPath"`
	StoreBackend string    `json:"storeBackend"`
	Findings     []Finding `json:"findings,omitempty"`
}

// Healthy reports whether the run produced no warnings or criticals.
func (r Report) Healthy() bool {
	for _, f := range r.Findings {
		if f.Severity != SeverityInfo {
			return false
		}
	}
	return true
}

const storeProbeTimeout = 5 * time.Second

// Run executes every check against the document at configPath and store.
// Checks are read-only except the store probe, which round-trips a value
// under the doctor's own scope and deletes it again.
func Run(ctx context.Context, configPath string, store secretstore.Store) Report {
	report := Report{ConfigPath: configPath, StoreBackend: store.Backend()}

	snapshot, err := config.LoadSnapshot(configPath)
	if err != nil {
		report.Findings = append(report.Findings, Finding{
			Check:    "config",
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("cannot read %s: %v", configPath, err),
		})
		return report
	}
	if !snapshot.Exists {
		report.Findings = append(report.Findings, Finding{
			Check:    "config",
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("no configuration at %s", configPath),
			Fix:      "run `perch onboard` to create one",
		})
	}
	for _, issue := range snapshot.Issues {
		report.Findings = append(report.Findings, Finding{
			Check:    "config",
			Severity: SeverityCritical,
			Message:  issue,
		})
	}

	report.Findings = append(report.Findings, checkFilePermissions(configPath)...)
	report.Findings = append(report.Findings, checkBindHazards(snapshot.Parsed)...)
	report.Findings = append(report.Findings, probeStore(ctx, store)...)
	report.Findings = append(report.Findings, checkSecrets(ctx, snapshot.Parsed, store)...)
	return report
}

// probeStore verifies that the backend actually stores and returns values,
// not just that the platform claims support.
func probeStore(ctx context.Context, store secretstore.Store) []Finding {
	if !store.Available() {
		return []Finding{{
			Check:    "store",
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("secret store backend %q is unavailable; secrets will stay in the config file", store.Backend()),
			Fix:      "install an OS keyring service or set " + secretstore.EnvBackendOverride,
		}}
	}

	ref, err := secretref.New(config.DefaultNamespace, "doctor", "probe")
	if err != nil {
		return []Finding{{Check: "store", Severity: SeverityCritical, Message: err.Error()}}
	}

	probeCtx, cancel := context.WithTimeout(ctx, storeProbeTimeout)
	defer cancel()

	if err := store.Set(probeCtx, ref, "ok"); err != nil {
		return []Finding{{
			Check:    "store",
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("store write failed: %v", err),
		}}
	}
	value, ok, err := store.Get(probeCtx, ref)
	if err != nil || !ok || value != "ok" {
		return []Finding{{
			Check:    "store",
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("store read-back failed (ok=%v err=%v)", ok, err),
		}}
	}
	if err := store.Delete(probeCtx, ref); err != nil {
		return []Finding{{
			Check:    "store",
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("probe cleanup failed: %v", err),
		}}
	}
	return nil
}

// checkSecrets flags plaintext credentials still in the document and
// references whose secret is missing from the store.
func checkSecrets(ctx context.Context, doc config.Document, store secretstore.Store) []Finding {
	var findings []Finding

	for _, path := range config.HasPlaintextSecrets(doc) {
		findings = append(findings, Finding{
			Check:    "secrets",
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("%s holds a plaintext credential", path),
			Fix:      "run `perch secrets externalize` or re-save via `perch config patch`",
		})
	}

	for _, binding := range config.SecretRefs(doc) {
		if !store.Available() {
			findings = append(findings, Finding{
				Check:    "secrets",
				Severity: SeverityCritical,
				Message:  fmt.Sprintf("%s references %s but the store is unavailable", binding.Path, binding.Ref),
			})
			continue
		}
		present, err := secretstore.Has(ctx, store, binding.Ref)
		if err != nil {
			findings = append(findings, Finding{
				Check:    "secrets",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("cannot verify %s: %v", binding.Ref, err),
			})
			continue
		}
		if !present {
			findings = append(findings, Finding{
				Check:    "secrets",
				Severity: SeverityCritical,
				Message:  fmt.Sprintf("%s references %s but no such secret is stored", binding.Path, binding.Ref),
				Fix:      fmt.Sprintf("run `perch secrets set %s`", binding.Ref),
			})
		}
	}
	return findings
}
