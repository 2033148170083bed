package wizard

import (
	"fmt"
	"strings"

	"github.com/perchbot/perch/internal/config"
)

// Flow names accepted by wizard.start.
const (
	// FlowQuickstart is the fresh guided onboarding flow: provider, API key,
	// channels, workspace.
	FlowQuickstart = "quickstart"

	// FlowChannel adds credentials for a single channel.
	FlowChannel = "channel"
)

var providerOptions = []Option{
	{Value: "anthropic", Label: "Anthropic"},
	{Value: "openai", Label: "OpenAI"},
}

var channelOptions = []Option{
	{Value: "telegram", Label: "Telegram"},
	{Value: "discord", Label: "Discord"},
	{Value: "slack", Label: "Slack"},
}

// quickstartFlow walks a new install through provider and channel setup.
// Step order: welcome note, provider select, API key, channel multiselect,
// one token step per selected channel, workspace path, apply progress.
type quickstartFlow struct{}

func (quickstartFlow) Name() string { return FlowQuickstart }
func (quickstartFlow) Fresh() bool  { return true }

func (f quickstartFlow) NextStep(state *FlowState, lastStepID string) (*Step, error) {
	switch lastStepID {
	case "":
		return &Step{
			ID:      "welcome",
			Type:    StepNote,
			Title:   "Welcome to Perch",
			Message: "This wizard configures an LLM provider and your chat channels. Credentials go to the system credential store, not the config file.",
		}, nil
	case "welcome":
		return &Step{
			ID:      "provider",
			Type:    StepSelect,
			Title:   "LLM provider",
			Message: "Which provider should Perch use by default?",
			Options: providerOptions,
		}, nil
	case "provider":
		return &Step{
			ID:          "provider_key",
			Type:        StepPassword,
			Title:       fmt.Sprintf("%s API key", state.String("provider")),
			Placeholder: "sk-...",
			Sensitive:   true,
		}, nil
	case "provider_key":
		return &Step{
			ID:      "channels",
			Type:    StepMultiSelect,
			Title:   "Channels",
			Message: "Select the chat channels to enable.",
			Options: channelOptions,
		}, nil
	case "channels":
		return f.tokenStepAfter(state, "")
	case "workspace":
		return &Step{
			ID:      "apply",
			Type:    StepProgress,
			Title:   "Applying configuration",
			Message: "Writing config and storing credentials.",
		}, nil
	case "apply":
		return nil, nil
	default:
		if channel, ok := strings.CutPrefix(lastStepID, "token_"); ok {
			return f.tokenStepAfter(state, channel)
		}
		return nil, fmt.Errorf("quickstart: unknown step %q", lastStepID)
	}
}

// tokenStepAfter returns the token step for the first selected channel after
// the given one, or the workspace step once every channel has a token.
func (quickstartFlow) tokenStepAfter(state *FlowState, lastChannel string) (*Step, error) {
	channels := state.Strings("channels")
	start := 0
	if lastChannel != "" {
		for i, channel := range channels {
			if channel == lastChannel {
				start = i + 1
				break
			}
		}
	}
	if start < len(channels) {
		channel := channels[start]
		return &Step{
			ID:        "token_" + channel,
			Type:      StepPassword,
			Title:     fmt.Sprintf("%s bot token", channel),
			Sensitive: true,
		}, nil
	}
	return &Step{
		ID:           "workspace",
		Type:         StepText,
		Title:        "Workspace path",
		Message:      "Where should Perch keep its working files? Leave empty to skip.",
		Placeholder:  "~/perch",
		InitialValue: state.Workspace,
	}, nil
}

func (quickstartFlow) Finish(state *FlowState) (config.Document, string, error) {
	provider := state.String("provider")
	if provider == "" {
		return nil, "", fmt.Errorf("quickstart: no provider selected")
	}

	patch := config.Document{
		"llm": map[string]any{
			"default_provider": provider,
			"providers": map[string]any{
				provider: map[string]any{
					"api_key": state.String("provider_key"),
				},
			},
		},
	}

	channels := map[string]any{}
	for _, channel := range state.Strings("channels") {
		entry := map[string]any{"enabled": true}
		if token := state.String("token_" + channel); token != "" {
			entry["bot_token"] = token
		}
		channels[channel] = entry
	}
	if len(channels) > 0 {
		patch["channels"] = channels
	}

	workspace := strings.TrimSpace(state.String("workspace"))
	if workspace == "" {
		workspace = state.Workspace
	}
	if workspace != "" {
		patch["workspace"] = map[string]any{"path": workspace}
	}

	return patch, "wizard quickstart", nil
}

// channelFlow adds or replaces one channel credential.
type channelFlow struct{}

func (channelFlow) Name() string { return FlowChannel }
func (channelFlow) Fresh() bool  { return false }

func (channelFlow) NextStep(state *FlowState, lastStepID string) (*Step, error) {
	switch lastStepID {
	case "":
		return &Step{
			ID:      "channel",
			Type:    StepSelect,
			Title:   "Channel",
			Message: "Which channel do you want to configure?",
			Options: channelOptions,
		}, nil
	case "channel":
		return &Step{
			ID:        "token",
			Type:      StepPassword,
			Title:     fmt.Sprintf("%s bot token", state.String("channel")),
			Sensitive: true,
		}, nil
	case "token":
		return &Step{
			ID:           "enable",
			Type:         StepConfirm,
			Title:        "Enable channel",
			Message:      "Enable this channel now?",
			InitialValue: true,
		}, nil
	case "enable":
		return nil, nil
	default:
		return nil, fmt.Errorf("channel flow: unknown step %q", lastStepID)
	}
}

func (channelFlow) Finish(state *FlowState) (config.Document, string, error) {
	channel := state.String("channel")
	if channel == "" {
		return nil, "", fmt.Errorf("channel flow: no channel selected")
	}
	token := state.String("token")
	if strings.TrimSpace(token) == "" {
		return nil, "", fmt.Errorf("channel flow: empty token for %s", channel)
	}
	return config.Document{
		"channels": map[string]any{
			channel: map[string]any{
				"enabled":   state.Bool("enable"),
				"bot_token": token,
			},
		},
	}, "wizard channel " + channel, nil
}
