// handlers_onboard.go drives wizard flows interactively in the terminal.
// The same session engine backs the websocket wizard methods; this runner is
// just a local client for it.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/perchbot/perch/internal/config"
	"github.com/perchbot/perch/internal/observability"
	"github.com/perchbot/perch/internal/secretstore"
	"github.com/perchbot/perch/internal/wizard"
)

func runOnboard(ctx context.Context, configPath, flowName, workspace string) error {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  "warn",
		Format: "text",
		Output: os.Stderr,
	})

	store := secretstore.Default()
	if !store.Available() {
		fmt.Fprintf(os.Stderr, "warning: secret store backend %q is unavailable; credentials will be written to %s\n",
			store.Backend(), configPath)
	}

	gate := config.NewManager(configPath, store, logger, nil)
	wizards := wizard.NewManager(gate, logger, nil)

	view, err := wizards.Start(ctx, wizard.StartRequest{
		Mode:      "local",
		Flow:      flowName,
		Workspace: workspace,
	})
	if err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)
	for view.Status == wizard.StatusRunning && view.Step != nil {
		step := view.Step
		raw, err := promptStep(reader, step)
		if err != nil {
			// Input ended; leave no half-finished session behind.
			_, _ = wizards.Cancel(ctx, view.ID) //nolint:errcheck
			return err
		}

		next, err := wizards.Next(ctx, view.ID, &wizard.Answer{StepID: step.ID, Value: raw})
		if err != nil {
			fmt.Printf("  %v\n", err)
			next, err = wizards.Status(ctx, view.ID)
			if err != nil {
				return err
			}
		}
		view = next
	}

	switch view.Status {
	case wizard.StatusDone:
		fmt.Printf("\nSetup complete. Configuration written to %s\n", configPath)
		if view.Result != nil {
			fmt.Printf("Document hash: %s\n", view.Result.Hash)
			for _, warning := range view.Result.Warnings {
				fmt.Printf("warning: %s\n", warning)
			}
			for _, path := range view.Result.PlaintextPaths {
				fmt.Printf("warning: %s kept a plaintext credential\n", path)
			}
		}
		return nil
	case wizard.StatusCancelled:
		fmt.Println("\nSetup cancelled.")
		return nil
	case wizard.StatusError:
		return fmt.Errorf("setup failed: %s", view.Error)
	default:
		return fmt.Errorf("setup ended in unexpected state %q", view.Status)
	}
}

// promptStep renders one step and reads its raw answer. The raw value goes
// through the same shaping on the server side as a websocket answer would.
func promptStep(reader *bufio.Reader, step *wizard.Step) (any, error) {
	fmt.Printf("\n%s\n", step.Title)
	if step.Message != "" {
		fmt.Println(step.Message)
	}

	switch step.Type {
	case wizard.StepNote, wizard.StepAction:
		fmt.Print("Press enter to continue... ")
		if _, err := reader.ReadString('\n'); err != nil {
			return nil, err
		}
		return true, nil

	case wizard.StepProgress:
		return true, nil

	case wizard.StepText:
		label := "> "
		if step.Placeholder != "" {
			label = fmt.Sprintf("[%s] > ", step.Placeholder)
		}
		fmt.Print(label)
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			if initial, ok := step.InitialValue.(string); ok {
				return initial, nil
			}
		}
		return line, nil

	case wizard.StepPassword:
		value, err := readPassword(reader, "> ")
		if err != nil {
			return nil, err
		}
		return value, nil

	case wizard.StepConfirm:
		suffix := "[y/N]"
		if initial, _ := step.InitialValue.(bool); initial {
			suffix = "[Y/n]"
		}
		fmt.Printf("%s > ", suffix)
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(line) == "" {
			// Defaults to the step's initial value.
			return nil, nil
		}
		return strings.TrimSpace(line), nil

	case wizard.StepSelect:
		for i, option := range step.Options {
			fmt.Printf("  %d) %s\n", i+1, option.Label)
		}
		for {
			fmt.Print("choice > ")
			line, err := reader.ReadString('\n')
			if err != nil {
				return nil, err
			}
			n, err := strconv.Atoi(strings.TrimSpace(line))
			if err != nil || n < 1 || n > len(step.Options) {
				fmt.Printf("  choose a number between 1 and %d\n", len(step.Options))
				continue
			}
			return n - 1, nil
		}

	case wizard.StepMultiSelect:
		for i, option := range step.Options {
			fmt.Printf("  %d) %s\n", i+1, option.Label)
		}
		for {
			fmt.Print("choices (comma separated) > ")
			line, err := reader.ReadString('\n')
			if err != nil {
				return nil, err
			}
			indices, ok := parseIndexList(line, len(step.Options))
			if !ok {
				fmt.Printf("  choose numbers between 1 and %d\n", len(step.Options))
				continue
			}
			return indices, nil
		}

	default:
		return nil, fmt.Errorf("cannot render step type %q", step.Type)
	}
}

func parseIndexList(line string, optionCount int) ([]int, bool) {
	var indices []int
	for _, field := range strings.Split(line, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil || n < 1 || n > optionCount {
			return nil, false
		}
		indices = append(indices, n-1)
	}
	return indices, true
}

// readPassword reads without echo on a terminal, falling back to a plain
// line read when stdin is piped.
func readPassword(reader *bufio.Reader, label string) (string, error) {
	fmt.Print(label)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		text, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(text)), nil
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func promptSecret(cmd *cobra.Command, label string) (string, error) {
	reader := bufio.NewReader(cmd.InOrStdin())
	return readPassword(reader, label+": ")
}
