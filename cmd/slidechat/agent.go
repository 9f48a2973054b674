package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/miguel-bm/slidechat/internal/agent"
	"github.com/miguel-bm/slidechat/internal/config"
	"github.com/miguel-bm/slidechat/internal/uistream"
)

// agentOptions maps the agent config section to query defaults.
func agentOptions(cfg config.AgentConfig) agent.Options {
	opts := agent.DefaultOptions()
	if cfg.Model != "" {
		opts.Model = cfg.Model
	}
	if cfg.MaxTurns > 0 {
		opts.MaxTurns = cfg.MaxTurns
	}
	if cfg.AllowedTools != nil {
		opts.AllowedTools = append([]string(nil), cfg.AllowedTools...)
	}
	opts.IncludePartialMessages = cfg.IncludePartialMessages
	opts.SystemPrompt = cfg.SystemPrompt
	opts.WorkDir = cfg.WorkDir
	return opts
}

// newQuerier builds the configured agent backend.
func newQuerier(cfg config.AgentConfig) (agent.Querier, error) {
	switch cfg.Backend {
	case config.BackendAPI:
		key := os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("agent backend %q needs an API key in $%s", cfg.Backend, cfg.APIKeyEnv)
		}
		return agent.NewAPIQuerier(key, cfg.MaxTokens), nil
	case config.BackendCLI, "":
		return agent.NewCLIQuerier(cfg.CLIPath), nil
	default:
		return nil, fmt.Errorf("unknown agent backend %q", cfg.Backend)
	}
}

func newAdapter(q agent.Querier, cfg config.AgentConfig) *uistream.Adapter {
	return uistream.New(q,
		uistream.WithDefaults(agentOptions(cfg)),
		uistream.WithLogger(slog.Default().With("component", "chat")),
	)
}
