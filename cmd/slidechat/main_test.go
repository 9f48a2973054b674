package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miguel-bm/slidechat/internal/agent"
	"github.com/miguel-bm/slidechat/internal/config"
)

func TestAgentOptions(t *testing.T) {
	cfg := config.Default().Agent
	cfg.Model = "claude-sonnet-4-5"
	cfg.MaxTurns = 3
	cfg.AllowedTools = []string{"Read"}
	cfg.IncludePartialMessages = false
	cfg.SystemPrompt = "You help with slide decks."
	cfg.WorkDir = "/srv/decks"

	opts := agentOptions(cfg)

	assert.Equal(t, agent.Options{
		Model:                  "claude-sonnet-4-5",
		MaxTurns:               3,
		AllowedTools:           []string{"Read"},
		IncludePartialMessages: false,
		SystemPrompt:           "You help with slide decks.",
		WorkDir:                "/srv/decks",
	}, opts)
}

func TestNewQuerier(t *testing.T) {
	cfg := config.Default().Agent

	q, err := newQuerier(cfg)
	require.NoError(t, err)
	assert.IsType(t, &agent.CLIQuerier{}, q)

	cfg.Backend = config.BackendAPI
	cfg.APIKeyEnv = "SLIDECHAT_TEST_API_KEY"
	t.Setenv("SLIDECHAT_TEST_API_KEY", "")
	_, err = newQuerier(cfg)
	assert.Error(t, err)

	t.Setenv("SLIDECHAT_TEST_API_KEY", "sk-test")
	q, err = newQuerier(cfg)
	require.NoError(t, err)
	assert.IsType(t, &agent.APIQuerier{}, q)
}

func TestRunAsk_Replay(t *testing.T) {
	transcript := `{"type":"system","subtype":"init","session_id":"s1"}
{"type":"assistant","message":{"content":[{"type":"text","text":"Three slides."}]}}
{"type":"result","subtype":"success","is_error":false,"result":"Three slides."}
`
	path := filepath.Join(t.TempDir(), "answer.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(transcript), 0644))

	var out bytes.Buffer
	err := runAsk(context.Background(), &out, newAdapter(agent.ReplayQuerier{Path: path}, config.Default().Agent), "How many slides?", nil)
	require.NoError(t, err)

	var types []string
	dec := json.NewDecoder(&out)
	for dec.More() {
		var chunk map[string]any
		require.NoError(t, dec.Decode(&chunk))
		types = append(types, chunk["type"].(string))
	}
	assert.Equal(t, []string{"start", "text-start", "text-delta", "text-end", "finish"}, types)
}

func TestRunAsk_ErrorChunkFails(t *testing.T) {
	var out bytes.Buffer
	q := agent.ReplayQuerier{Path: filepath.Join(t.TempDir(), "missing.ndjson")}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := runAsk(ctx, &out, newAdapter(q, config.Default().Agent), "hi", nil)

	assert.Error(t, err)
	assert.Contains(t, out.String(), `"type":"error"`)
}

func TestNewLogger(t *testing.T) {
	assert.True(t, newLogger("debug").Enabled(context.Background(), -4))
	assert.False(t, newLogger("warn").Enabled(context.Background(), 0))
	assert.True(t, newLogger("bogus").Enabled(context.Background(), 0))
}
