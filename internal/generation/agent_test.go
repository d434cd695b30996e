package generation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseUpstream(t *testing.T, wantPath string, frames []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, wantPath, r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, frame := range frames {
			_, _ = w.Write([]byte(frame + "\n"))
		}
	}))
}

func collect(t *testing.T, s Streamer, agent Agent) ([]string, error) {
	t.Helper()
	var fragments []string
	for fragment, err := range s.Stream(context.Background(), agent, "write something") {
		if err != nil {
			return fragments, err
		}
		fragments = append(fragments, fragment)
	}
	return fragments, nil
}

func TestChatClientStream(t *testing.T) {
	srv := sseUpstream(t, "/chat-messages", []string{
		`data: {"event":"message","answer":"Hello"}`,
		``,
		`data: {"event":"message","answer":" world"}`,
		``,
		`data: not-json-at-all`,
		``,
		`data: {"event":"message_end"}`,
		``,
		`data: {"event":"message","answer":"after end, never seen"}`,
		``,
	})
	defer srv.Close()

	fragments, err := collect(t, NewChatClient(nil), Agent{Kind: BackendChat, BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", " world"}, fragments)
}

func TestChatClientErrorEvent(t *testing.T) {
	srv := sseUpstream(t, "/chat-messages", []string{
		`data: {"event":"message","answer":"partial"}`,
		``,
		`data: {"event":"error","message":"quota exceeded"}`,
		``,
	})
	defer srv.Close()

	fragments, err := collect(t, NewChatClient(nil), Agent{BaseURL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Equal(t, []string{"partial"}, fragments)
}

func TestCompletionsClientStream(t *testing.T) {
	srv := sseUpstream(t, "/chat/completions", []string{
		`data: {"choices":[{"delta":{"content":"The"}}]}`,
		``,
		`data: {"choices":[{"delta":{"content":" answer"}}]}`,
		``,
		`data: {"choices":[]}`,
		``,
		`data: {broken`,
		``,
		`data: [DONE]`,
		``,
	})
	defer srv.Close()

	fragments, err := collect(t, NewCompletionsClient(nil), Agent{BaseURL: srv.URL, Model: "gpt-test"})
	require.NoError(t, err)
	assert.Equal(t, []string{"The", " answer"}, fragments)
}

func TestStreamUpstreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := collect(t, NewChatClient(nil), Agent{BaseURL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	_, err = collect(t, NewCompletionsClient(nil), Agent{BaseURL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestStreamerFor(t *testing.T) {
	s, err := StreamerFor(BackendChat, nil)
	require.NoError(t, err)
	assert.IsType(t, &ChatClient{}, s)

	s, err = StreamerFor(BackendCompletions, nil)
	require.NoError(t, err)
	assert.IsType(t, &CompletionsClient{}, s)

	_, err = StreamerFor("telnet", nil)
	assert.Error(t, err)
}
