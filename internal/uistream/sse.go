package uistream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// HeaderUIMessageStream marks a response as a UI message stream for the chat client.
const HeaderUIMessageStream = "X-Vercel-AI-UI-Message-Stream"

// WriteSSE streams resp to w as server-sent events, one "data:" event per
// chunk followed by "data: [DONE]". It always closes resp; a write error
// (client gone) stops the producer and is returned.
func WriteSSE(w http.ResponseWriter, resp *Response) error {
	defer resp.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set(HeaderUIMessageStream, "v1")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	flush := func() error {
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		return nil
	}
	if err := flush(); err != nil {
		return err
	}

	for chunk := range resp.Chunks() {
		if err := writeEvent(w, chunk); err != nil {
			return err
		}
		if err := flush(); err != nil {
			return err
		}
	}

	if _, err := io.WriteString(w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	return flush()
}

func writeEvent(w io.Writer, chunk Chunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("encode chunk: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
