package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"causalkv/internal/causal"
	"causalkv/internal/partition"
	"causalkv/internal/topology"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// fragment is one shard's worth of data carved out of an old leader's
// merged store during rehash (spec.md §3 "fragments: transient array of
// maps, one per destination shard, used only during reshard").
type fragment struct {
	values   map[string]string
	history  map[string]causal.History
	versions causal.History
}

// GetKeysResponse is the response of GET /kvs/reshard/get_keys
// (spec.md §4.5 step 1, §6).
type GetKeysResponse struct {
	Keys    map[string]string `json:"keys"`
	History causal.History    `json:"history"`
}

// PrimeResult is the response of PUT /kvs/reshard/prime.
type PrimeResult struct {
	CurrentView int `json:"current_view"`
}

// SetNewViewRequest is the body of PUT /kvs/reshard/set_new_view and
// (reused) PUT /kvs/reshard/rehash, both of which carry the new view.
type SetNewViewRequest struct {
	View        string `json:"view"`
	ReplFactor  int    `json:"repl_factor"`
	CurrentView int    `json:"current_view"`
}

// PutPayloadRequest is the body of PUT /kvs/reshard/put_payload. It
// extends spec.md §6's minimal `{payload: {k:v,...}}` with the history
// and per-key versions needed for a VC-aware merge on receipt, per the
// spec's own REDESIGN recommendation (§9 open question 2) rather than
// last-write-wins by map-iteration order.
type PutPayloadRequest struct {
	Payload  map[string]string         `json:"payload"`
	History  map[string]causal.History `json:"history"`
	Versions causal.History            `json:"versions"`
}

// ViewChangeRequest is the body of PUT /kvs/view-change.
type ViewChangeRequest struct {
	View       string `json:"view"`
	ReplFactor int    `json:"repl-factor"`
}

// ViewChangeResponse is the aggregated response of PUT /kvs/view-change.
type ViewChangeResponse struct {
	Shards []ShardSummary `json:"shards"`
}

// ─── follower/old-leader/new-leader RPC handlers ───────────────────────

// HandleGetKeys answers a prime request from this node's old shard
// leader: snapshot local state, then clear it (spec.md §4.5 step 1:
// "Followers return {keys, history} and clear their own state").
func (h *Handler) HandleGetKeys() GetKeysResponse {
	h.mu.Lock()
	defer h.mu.Unlock()

	values, versions := h.store.Snapshot()
	h.store.Reset()
	return GetKeysResponse{Keys: values, History: versions}
}

// HandlePrime executes step 1 at an old shard leader: gather every
// follower's keys and history, merge only strictly-newer entries, and
// report this node's current_view for the coordinator's view-id bump.
func (h *Handler) HandlePrime(ctx context.Context) PrimeResult {
	h.mu.Lock()
	followers := h.shardPeersLocked()
	h.mu.Unlock()

	responses := h.gatherGetKeys(ctx, followers)

	h.mu.Lock()
	for _, r := range responses {
		h.store.MergeFrom(r.Keys, nil, r.History)
	}
	cv := h.view.CurrentView
	h.mu.Unlock()

	return PrimeResult{CurrentView: cv}
}

// gatherGetKeys calls GET /kvs/reshard/get_keys on every follower
// concurrently and returns whatever answers arrive within the deadline;
// an unreachable follower's data is simply absent from the merge
// (best-effort, spec.md §4.5 "Failure handling").
func (h *Handler) gatherGetKeys(ctx context.Context, followers []string) []GetKeysResponse {
	var mu sync.Mutex
	var out []GetKeysResponse

	g, gctx := errgroup.WithContext(ctx)
	for _, f := range followers {
		f := f
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, requestTimeout)
			defer cancel()
			resp, ok := h.getJSON(cctx, f, "/kvs/reshard/get_keys")
			if !ok {
				if h.log != nil {
					h.log.Warn("reshard prime: follower unreachable", zap.String("follower", f))
				}
				return nil
			}
			var gk GetKeysResponse
			if err := json.Unmarshal(resp, &gk); err != nil {
				return nil
			}
			mu.Lock()
			out = append(out, gk)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// HandleSetNewView applies the new membership recomputation (spec.md
// §3) without touching local_kvs: followers already cleared their
// state in step 1, and old leaders still need theirs intact for
// HandleRehash, so store lifecycle is managed there instead.
func (h *Handler) HandleSetNewView(req SetNewViewRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	newView, err := topology.New(req.View, req.ReplFactor, req.CurrentView, h.address)
	if err != nil {
		return err
	}
	h.view = newView
	h.replFactor = req.ReplFactor
	h.resetClockLocked()
	if h.metrics != nil {
		h.metrics.CurrentView.Set(float64(h.view.CurrentView))
	}
	return nil
}

// fragments and pendingNewView are transient reshard-only state; see
// the fragment type doc comment.
type reshardState struct {
	fragments      map[int]fragment
	pendingNewView *topology.View
}

// HandleRehash executes step 4 at an old shard leader: partition the
// merged store into per-new-shard fragments, keep the fragment of any
// new shard this node leads, and stage the rest for the push to their
// new leaders in HandleReshard.
func (h *Handler) HandleRehash(req SetNewViewRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	newView, err := topology.New(req.View, req.ReplFactor, req.CurrentView, h.address)
	if err != nil {
		return err
	}

	values, versions := h.store.Snapshot()
	histories := h.store.HistorySnapshot()
	numShards := newView.NumShards()

	fragments := make(map[int]fragment, numShards)
	for k, v := range values {
		shardID := partition.ShardOf(k, numShards)
		f := fragments[shardID]
		if f.values == nil {
			f.values = make(map[string]string)
			f.history = make(map[string]causal.History)
			f.versions = causal.New()
		}
		f.values[k] = v
		if hh, ok := histories[k]; ok {
			f.history[k] = hh
		}
		if vc := versions.Get(k); vc != nil {
			f.versions.Insert(k, *vc)
		}
		fragments[shardID] = f
	}

	h.store.Reset()

	toPush := make(map[int]fragment, numShards)
	for shardID, f := range fragments {
		if newView.ShardLeader(shardID) == h.address {
			h.store.MergeFrom(f.values, f.history, f.versions)
			continue
		}
		toPush[shardID] = f
	}

	nv := newView
	h.reshard.fragments = toPush
	h.reshard.pendingNewView = &nv
	return nil
}

// HandleReshard executes step 5: push every staged fragment to its new
// shard's leader.
func (h *Handler) HandleReshard(ctx context.Context) {
	h.mu.Lock()
	fragments := h.reshard.fragments
	newView := h.reshard.pendingNewView
	h.reshard.fragments = nil
	h.reshard.pendingNewView = nil
	h.mu.Unlock()

	if newView == nil {
		return
	}
	for shardID, f := range fragments {
		leader := newView.ShardLeader(shardID)
		if leader == "" {
			continue
		}
		h.pushFragment(ctx, leader, f)
	}
}

// HandlePutPayload merges an incoming fragment (spec.md §9 open
// question 2: VC-aware merge, not last-write-wins).
func (h *Handler) HandlePutPayload(req PutPayloadRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.store.MergeFrom(req.Payload, req.History, req.Versions)
}

// HandleSendKeysToReplicas executes step 6 at a new shard leader: push
// its freshly-assembled local_kvs to its followers, then report the
// summary used in the client's aggregated response.
func (h *Handler) HandleSendKeysToReplicas(ctx context.Context) ShardSummary {
	h.mu.Lock()
	if !h.view.IsMember() {
		h.mu.Unlock()
		return ShardSummary{}
	}
	shardIdx := *h.view.ThisShard
	values, versions := h.store.Snapshot()
	histories := h.store.HistorySnapshot()
	followers := h.shardPeersLocked()
	replicas := h.view.ReplicasOf(shardIdx)
	h.mu.Unlock()

	f := fragment{values: values, history: histories, versions: versions}
	for _, peer := range followers {
		h.pushFragment(ctx, peer, f)
	}

	return ShardSummary{ShardID: shardIdx, KeyCount: len(values), Replicas: replicas}
}

// ─── transport helpers ─────────────────────────────────────────────────

func (h *Handler) pushFragment(ctx context.Context, target string, f fragment) {
	body := PutPayloadRequest{Payload: f.values, History: f.history, Versions: f.versions}
	data, err := json.Marshal(body)
	if err != nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPut, fmt.Sprintf("http://%s/kvs/reshard/put_payload", target), bytes.NewReader(data))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.httpClient.Do(req)
	if err != nil {
		if h.log != nil {
			h.log.Warn("fragment push failed", zap.String("target", target), zap.Error(err))
		}
		return
	}
	resp.Body.Close()
}

func (h *Handler) getJSON(ctx context.Context, target, path string) ([]byte, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s%s", target, path), nil)
	if err != nil {
		return nil, false
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

func (h *Handler) putJSON(ctx context.Context, target, path string, body any) bool {
	_, ok := h.putJSONWithResponse(ctx, target, path, body)
	return ok
}

func (h *Handler) putJSONWithResponse(ctx context.Context, target, path string, body any) ([]byte, bool) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, false
	}
	cctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(cctx, http.MethodPut, fmt.Sprintf("http://%s%s", target, path), bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

// ─── Coordinator: the fixed 7-step sequence (spec.md §4.5) ─────────────

// Coordinator orchestrates a single view change. It is created fresh
// per reshard and discarded afterward; all durable state lives in the
// Handler it drives.
type Coordinator struct {
	h *Handler
}

// NewCoordinator wraps h for one reshard run.
func NewCoordinator(h *Handler) *Coordinator {
	return &Coordinator{h: h}
}

// Reshard runs the fixed sequence and returns the client-facing
// aggregate response (spec.md §4.5 step 7).
func (c *Coordinator) Reshard(ctx context.Context, viewCSV string, replFactor int) (int, ViewChangeResponse) {
	h := c.h
	start := time.Now()

	h.mu.Lock()
	oldView := h.view
	h.mu.Unlock()

	oldLeaders := shardLeaders(oldView)

	// Step 1: prime old leaders.
	primed := c.fanLeaders(ctx, oldLeaders, func(lctx context.Context, leader string) int {
		if leader == h.address {
			return h.HandlePrime(lctx).CurrentView
		}
		resp, ok := h.putJSONWithResponse(lctx, leader, "/kvs/reshard/prime", struct{}{})
		if !ok {
			return -1
		}
		var pr PrimeResult
		if json.Unmarshal(resp, &pr) != nil {
			return -1
		}
		return pr.CurrentView
	})

	// Step 2: bump view id.
	maxView := oldView.CurrentView
	for _, v := range primed {
		if v > maxView {
			maxView = v
		}
	}
	newCurrentView := maxView + 1

	// Step 3: broadcast new view to union(old_view, new_view) \ {self}.
	probe, err := topology.New(viewCSV, replFactor, newCurrentView, h.address)
	if err != nil {
		return http.StatusBadRequest, ViewChangeResponse{}
	}
	targets := unionExcludingSelf(oldView.Addresses, probe.Addresses, h.address)
	setReq := SetNewViewRequest{View: viewCSV, ReplFactor: replFactor, CurrentView: newCurrentView}

	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			if !h.putJSON(ctx, target, "/kvs/reshard/set_new_view", setReq) && h.log != nil {
				h.log.Warn("set_new_view delivery failed", zap.String("target", target))
			}
		}(t)
	}
	wg.Wait()
	_ = h.HandleSetNewView(setReq) // apply locally too

	// Step 4: rehash at old leaders.
	c.fanLeadersVoid(ctx, oldLeaders, func(lctx context.Context, leader string) {
		if leader == h.address {
			_ = h.HandleRehash(setReq)
			return
		}
		h.putJSON(lctx, leader, "/kvs/reshard/rehash", setReq)
	})

	// Step 5: fragment exchange.
	c.fanLeadersVoid(ctx, oldLeaders, func(lctx context.Context, leader string) {
		if leader == h.address {
			h.HandleReshard(lctx)
			return
		}
		h.getJSON(lctx, leader, "/kvs/reshard/reshard")
	})

	// Step 6: intra-shard distribution, gathering the aggregate.
	newLeaders := make([]string, probe.NumShards())
	for i := 0; i < probe.NumShards(); i++ {
		newLeaders[i] = probe.ShardLeader(i)
	}
	summaries := c.gatherSummaries(ctx, newLeaders)

	if h.metrics != nil {
		h.metrics.ObserveReshard(time.Since(start))
	}
	return http.StatusOK, ViewChangeResponse{Shards: summaries}
}

func (c *Coordinator) fanLeaders(ctx context.Context, leaders []string, call func(context.Context, string) int) []int {
	g, gctx := errgroup.WithContext(ctx)
	out := make([]int, len(leaders))
	for i, leader := range leaders {
		i, leader := i, leader
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, requestTimeout)
			defer cancel()
			out[i] = call(cctx, leader)
			return nil
		})
	}
	_ = g.Wait()
	results := out[:0]
	for _, v := range out {
		if v >= 0 {
			results = append(results, v)
		}
	}
	return results
}

func (c *Coordinator) fanLeadersVoid(ctx context.Context, leaders []string, call func(context.Context, string)) {
	var wg sync.WaitGroup
	for _, leader := range leaders {
		wg.Add(1)
		go func(leader string) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, requestTimeout)
			defer cancel()
			call(cctx, leader)
		}(leader)
	}
	wg.Wait()
}

func (c *Coordinator) gatherSummaries(ctx context.Context, leaders []string) []ShardSummary {
	h := c.h
	var mu sync.Mutex
	var out []ShardSummary

	g, gctx := errgroup.WithContext(ctx)
	for _, leader := range leaders {
		leader := leader
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, requestTimeout)
			defer cancel()

			var summary ShardSummary
			if leader == h.address {
				summary = h.HandleSendKeysToReplicas(cctx)
			} else {
				resp, ok := h.getJSON(cctx, leader, "/kvs/reshard/send_keys_to_replicas")
				if !ok {
					if h.log != nil {
						h.log.Warn("reshard: new leader unreachable", zap.String("leader", leader))
					}
					return nil
				}
				if json.Unmarshal(resp, &summary) != nil {
					return nil
				}
			}
			mu.Lock()
			out = append(out, summary)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// shardLeaders returns the replica-0 address of every shard in v.
func shardLeaders(v topology.View) []string {
	leaders := make([]string, 0, v.NumShards())
	for i := 0; i < v.NumShards(); i++ {
		leaders = append(leaders, v.ShardLeader(i))
	}
	return leaders
}

// unionExcludingSelf returns the deduplicated union of a and b, minus self.
func unionExcludingSelf(a, b []string, self string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, addr := range a {
		if addr != self {
			set[addr] = struct{}{}
		}
	}
	for _, addr := range b {
		if addr != self {
			set[addr] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for addr := range set {
		out = append(out, addr)
	}
	return out
}

// HandleViewChange implements PUT /kvs/view-change (spec.md §4.5): the
// receiving node becomes the coordinator if it is its shard's leader in
// the old view; otherwise it proxies to its own shard leader, or to
// shards[0][0] if it isn't a member of the old view at all.
func (h *Handler) HandleViewChange(ctx context.Context, req ViewChangeRequest) (int, ViewChangeResponse) {
	h.mu.Lock()
	isLeader := h.view.IsMember() && h.view.IsShardLeader()
	var proxyTarget string
	if !isLeader {
		if h.view.IsMember() {
			proxyTarget = h.view.ShardLeader(*h.view.ThisShard)
		} else if h.view.NumShards() > 0 {
			proxyTarget = h.view.ShardLeader(0)
		}
	}
	h.mu.Unlock()

	if !isLeader {
		if proxyTarget == "" {
			return http.StatusServiceUnavailable, ViewChangeResponse{}
		}
		status, body, _, ok := h.fanOut(ctx, http.MethodPut, []string{proxyTarget}, "/kvs/view-change", req)
		if !ok {
			return http.StatusServiceUnavailable, ViewChangeResponse{}
		}
		var resp ViewChangeResponse
		_ = json.Unmarshal(body, &resp)
		return status, resp
	}

	return NewCoordinator(h).Reshard(ctx, req.View, req.ReplFactor)
}
