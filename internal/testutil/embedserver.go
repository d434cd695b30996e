package testutil

import (
	"encoding/json"
	"hash/fnv"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// EmbedServer is a fake OpenAI-compatible embeddings endpoint. It returns a
// deterministic vector per input text, so the same content always embeds to
// the same point and tests can reason about distances.
type EmbedServer struct {
	*httptest.Server

	// Dims is the vector dimensionality served (default 4).
	Dims int

	calls atomic.Int64
}

// NewEmbedServer starts a fake embeddings endpoint. Shutdown is registered
// on t.
func NewEmbedServer(t *testing.T) *EmbedServer {
	t.Helper()

	es := &EmbedServer{Dims: 4}
	es.Server = httptest.NewServer(http.HandlerFunc(es.handle))
	t.Cleanup(es.Server.Close)
	return es
}

// Calls returns how many embedding requests the server has handled.
func (es *EmbedServer) Calls() int64 { return es.calls.Load() }

// Vector returns the deterministic embedding the server produces for text.
func (es *EmbedServer) Vector(text string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, es.Dims)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(seed%2000)/1000 - 1
	}
	return vec
}

func (es *EmbedServer) handle(w http.ResponseWriter, r *http.Request) {
	es.calls.Add(1)

	var req struct {
		Input []string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "invalid request body"},
		})
		return
	}

	data := make([]map[string]any, len(req.Input))
	for i, text := range req.Input {
		data[i] = map[string]any{"index": i, "embedding": es.Vector(text)}
	}
	json.NewEncoder(w).Encode(map[string]any{"data": data})
}
