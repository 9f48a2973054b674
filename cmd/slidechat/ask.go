package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/miguel-bm/slidechat/internal/agent"
	"github.com/miguel-bm/slidechat/internal/uistream"
)

var (
	askReplay string
	askModel  string
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the agent once and print the UI stream chunks as JSON lines",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		var q agent.Querier
		if askReplay != "" {
			q = agent.ReplayQuerier{Path: askReplay}
		} else if q, err = newQuerier(cfg.Agent); err != nil {
			return err
		}

		var overrides *agent.Overrides
		if askModel != "" {
			overrides = &agent.Overrides{Model: &askModel}
		}

		ctx := cmd.Context()
		if cfg.Agent.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.Agent.RequestTimeout)
			defer cancel()
		}

		question := strings.Join(args, " ")
		return runAsk(ctx, cmd.OutOrStdout(), newAdapter(q, cfg.Agent), question, overrides)
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVar(&askReplay, "replay", "", "Replay a recorded stream-json transcript instead of calling the agent")
	askCmd.Flags().StringVar(&askModel, "model", "", "Model override for this question")
}

// runAsk streams one answer to w, one JSON chunk per line. It fails when the
// stream ends with an error chunk.
func runAsk(ctx context.Context, w io.Writer, adapter *uistream.Adapter, question string, overrides *agent.Overrides) error {
	resp := adapter.Stream(ctx, []uistream.UIMessage{uistream.NewUserMessage(question)}, overrides)
	defer resp.Close()

	enc := json.NewEncoder(w)
	var failure string
	for chunk := range resp.Chunks() {
		if err := enc.Encode(chunk); err != nil {
			return err
		}
		if chunk.Type == uistream.ChunkError {
			failure = chunk.ErrorText
		}
	}
	if failure != "" {
		return fmt.Errorf("agent stream failed: %s", failure)
	}
	return nil
}
