package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"serve", "onboard", "config", "secrets", "doctor"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestResolveConfigPath(t *testing.T) {
	if got := resolveConfigPath("/tmp/explicit.yaml"); got != "/tmp/explicit.yaml" {
		t.Errorf("explicit path = %q", got)
	}

	t.Setenv("PERCH_CONFIG", "/tmp/from-env.yaml")
	if got := resolveConfigPath(""); got != "/tmp/from-env.yaml" {
		t.Errorf("env path = %q", got)
	}

	t.Setenv("PERCH_CONFIG", "")
	got := resolveConfigPath("")
	if !strings.HasSuffix(got, filepath.Join(".perch", defaultConfigName)) {
		t.Errorf("default path = %q", got)
	}
}

func TestParseRefArg(t *testing.T) {
	tests := []struct {
		arg     string
		want    string
		wantErr bool
	}{
		{arg: "secret://perch/telegram/bot_token", want: "secret://perch/telegram/bot_token"},
		{arg: "perch/telegram/bot_token", want: "secret://perch/telegram/bot_token"},
		{arg: "just-a-word", wantErr: true},
		{arg: "too/few", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			ref, err := parseRefArg(tt.arg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if ref.String() != tt.want {
				t.Errorf("ref = %q, want %q", ref.String(), tt.want)
			}
		})
	}
}

func TestConfigGetCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perch.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 8790\nauth:\n  token: hunter2\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"config", "get", "--config", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config get: %v\n%s", err, out.String())
	}

	if strings.Contains(out.String(), "hunter2") {
		t.Error("config get echoed a credential")
	}
	if !strings.Contains(out.String(), "__REDACTED__") {
		t.Errorf("config get did not redact:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "# hash: ") {
		t.Error("config get did not print the document hash")
	}
}
