package node

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"testing"

	"causalkv/internal/causal"
	"causalkv/internal/clock"
	"causalkv/internal/observability"
	"causalkv/internal/partition"
	"causalkv/internal/topology"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mountInternalRoutes wires the handful of internal endpoints these
// tests exercise directly onto h, mirroring the routes internal/api
// registers against a real gin engine (spec.md §6). It exists only so
// package node's tests can drive real HTTP fan-out without depending
// on the api package, the way johnjansen-torua's node tests stand up a
// bare mux in front of a handler under test.
func mountInternalRoutes(mux *http.ServeMux, h *Handler) {
	mux.HandleFunc("/kvs/keys/", func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/kvs/keys/")
		switch r.Method {
		case http.MethodPut:
			var req PutRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			status, resp := h.HandlePut(r.Context(), key, req)
			writeJSON(w, status, resp)
		case http.MethodGet:
			var req GetRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			status, resp := h.HandleGet(r.Context(), key, req)
			writeJSON(w, status, resp)
		}
	})
	mux.HandleFunc("/kvs/key-count", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.HandleKeyCount())
	})
	mux.HandleFunc("/kvs/shards", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.HandleShards())
	})
	mux.HandleFunc("/kvs/shards/", func(w http.ResponseWriter, r *http.Request) {
		idx, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/kvs/shards/"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		status, resp := h.HandleShardInfo(r.Context(), idx)
		writeJSON(w, status, resp)
	})
	mux.HandleFunc("/kvs/view-change", func(w http.ResponseWriter, r *http.Request) {
		var req ViewChangeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		status, resp := h.HandleViewChange(r.Context(), req)
		writeJSON(w, status, resp)
	})
	mux.HandleFunc("/kvs/reshard/get_keys", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.HandleGetKeys())
	})
	mux.HandleFunc("/kvs/reshard/prime", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.HandlePrime(r.Context()))
	})
	mux.HandleFunc("/kvs/reshard/set_new_view", func(w http.ResponseWriter, r *http.Request) {
		var req SetNewViewRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if err := h.HandleSetNewView(req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/kvs/reshard/rehash", func(w http.ResponseWriter, r *http.Request) {
		var req SetNewViewRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if err := h.HandleRehash(req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/kvs/reshard/reshard", func(w http.ResponseWriter, r *http.Request) {
		h.HandleReshard(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/kvs/reshard/put_payload", func(w http.ResponseWriter, r *http.Request) {
		var req PutPayloadRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		h.HandlePutPayload(req)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/kvs/reshard/send_keys_to_replicas", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.HandleSendKeysToReplicas(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// startedNode bundles a live Handler with the httptest.Server serving
// it, so a test cluster's addresses are known before any view string
// referencing them is built.
type startedNode struct {
	handler *Handler
	addr    string
}

// startCluster brings up one listener (and Handler) per address in
// viewCSV, all sharing the same view, and returns them in view order.
func startCluster(t *testing.T, viewCSV string, replFactor, currentView int) []startedNode {
	t.Helper()
	addrs := strings.Split(viewCSV, ",")
	listeners := make([]net.Listener, len(addrs))
	for i := range addrs {
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		listeners[i] = lis
		addrs[i] = lis.Addr().String()
	}
	csv := strings.Join(addrs, ",")

	nodes := make([]startedNode, len(addrs))
	for i, addr := range addrs {
		view, err := topology.New(csv, replFactor, currentView, addr)
		require.NoError(t, err)
		h := New(addr, view, replFactor, zap.NewNop(), observability.NewMetrics())

		mux := http.NewServeMux()
		mountInternalRoutes(mux, h)
		srv := httptest.NewUnstartedServer(mux)
		srv.Listener.Close()
		srv.Listener = listeners[i]
		srv.Start()
		t.Cleanup(srv.Close)

		nodes[i] = startedNode{handler: h, addr: addr}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].addr < nodes[j].addr })
	return nodes
}

func strPtr(s string) *string { return &s }

func vcFor(t *testing.T, ctx causal.Ctx, key string) clock.VectorClock {
	t.Helper()
	vc := ctx.History.Get(key)
	require.NotNil(t, vc)
	return vc.Copy()
}

func TestHandlePutAndGetRoundTripOnSingleNode(t *testing.T) {
	nodes := startCluster(t, "solo", 1, 0)
	h := nodes[0].handler

	status, putResp := h.HandlePut(context.Background(), "hello", PutRequest{Value: strPtr("world")})
	require.Equal(t, http.StatusCreated, status)
	require.False(t, putResp.Replaced)

	status, getResp := h.HandleGet(context.Background(), "hello", GetRequest{CausalContext: putResp.CausalContext})
	require.Equal(t, http.StatusOK, status)
	require.True(t, getResp.DoesExist)
	require.Equal(t, "world", getResp.Value)

	status, putResp2 := h.HandlePut(context.Background(), "hello", PutRequest{Value: strPtr("world2"), CausalContext: getResp.CausalContext})
	require.Equal(t, http.StatusOK, status)
	require.True(t, putResp2.Replaced)
}

func TestHandlePutRejectsMissingValue(t *testing.T) {
	nodes := startCluster(t, "solo", 1, 0)
	h := nodes[0].handler
	status, resp := h.HandlePut(context.Background(), "k", PutRequest{})
	require.Equal(t, http.StatusBadRequest, status)
	require.NotEmpty(t, resp.Error)
}

func TestHandlePutRejectsLongKey(t *testing.T) {
	nodes := startCluster(t, "solo", 1, 0)
	h := nodes[0].handler
	status, _ := h.HandlePut(context.Background(), strings.Repeat("x", 51), PutRequest{Value: strPtr("v")})
	require.Equal(t, http.StatusBadRequest, status)
}

func TestHandleGetMissingKeyIsNotFound(t *testing.T) {
	nodes := startCluster(t, "solo", 1, 0)
	h := nodes[0].handler
	status, resp := h.HandleGet(context.Background(), "nope", GetRequest{})
	require.Equal(t, http.StatusNotFound, status)
	require.False(t, resp.DoesExist)
}

func TestHandleGetRejectsClientAheadOfLocal(t *testing.T) {
	nodes := startCluster(t, "solo", 1, 0)
	h := nodes[0].handler
	_, putResp := h.HandlePut(context.Background(), "k", PutRequest{Value: strPtr("v1")})

	// A client is only unsafe to serve when it knows about a write this
	// replica hasn't recorded yet — simulate that by handing back a
	// history entry strictly ahead of what's stored locally.
	ahead := vcFor(t, putResp.CausalContext, "k")
	ahead.Increment()
	ahead.Increment()
	cctx := putResp.CausalContext
	cctx.History = cctx.History.Copy()
	cctx.History.Insert("k", ahead)

	status, resp := h.HandleGet(context.Background(), "k", GetRequest{CausalContext: cctx})
	require.Equal(t, http.StatusBadRequest, status)
	require.NotEmpty(t, resp.Error)
}

func TestProxyForwardsToOwningShard(t *testing.T) {
	nodes := startCluster(t, "a,b", 1, 0)
	hA, hB := nodes[0].handler, nodes[1].handler
	view := hA.View()

	var key string
	for i := 0; i < 1000; i++ {
		k := "key" + strconv.Itoa(i)
		if partition.ShardOf(k, view.NumShards()) == 1 {
			key = k
			break
		}
	}
	require.NotEmpty(t, key)

	status, resp := hA.HandlePut(context.Background(), key, PutRequest{Value: strPtr("v")})
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, nodes[1].addr, resp.ForwardedBy)

	require.Equal(t, 0, hA.KeyCount())
	require.Equal(t, 1, hB.KeyCount())
}

func TestHandleShardsAndKeyCount(t *testing.T) {
	nodes := startCluster(t, "solo", 1, 0)
	h := nodes[0].handler
	_, _ = h.HandlePut(context.Background(), "k1", PutRequest{Value: strPtr("v")})

	kc := h.HandleKeyCount()
	require.Equal(t, 1, kc.KeyCount)
	require.Equal(t, 0, kc.ShardID)

	shards := h.HandleShards()
	require.Equal(t, []int{0}, shards.Shards)
}

func TestHandleShardInfoLocalAndProxied(t *testing.T) {
	nodes := startCluster(t, "a,b", 1, 0)
	hA := nodes[0].handler

	status, info := hA.HandleShardInfo(context.Background(), 0)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 0, info.ShardID)

	status, info = hA.HandleShardInfo(context.Background(), 1)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 1, info.ShardID)
}
