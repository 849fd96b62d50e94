package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSorobanClient_ConcurrentCallsUseUniqueRequestIDs(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[int64]int)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sorobanRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		mu.Lock()
		seen[req.ID]++
		mu.Unlock()

		_ = json.NewEncoder(w).Encode(sorobanRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  json.RawMessage(`{"sequence":123}`),
		})
	}))
	defer srv.Close()

	c := NewSorobanClient(srv.URL)

	const callers = 32
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			seq, err := c.GetLatestLedger(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, int64(123), seq)
		}()
	}
	wg.Wait()

	require.Len(t, seen, callers)
	for id, count := range seen {
		assert.Equal(t, 1, count, "request id %d reused", id)
	}
}

func TestSorobanClient_RPCErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      1,
			"error":   map[string]interface{}{"code": -32600, "message": "invalid request"},
		})
	}))
	defer srv.Close()

	c := NewSorobanClient(srv.URL)
	_, err := c.GetLatestLedger(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid request")
}
