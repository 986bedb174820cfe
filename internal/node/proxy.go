package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// proxyResult is one replica's answer to a fanned-out request.
type proxyResult struct {
	peer   string
	status int
	body   []byte
	err    error
}

// fanOut sends body to every address in replicas at path using method,
// in parallel, each bounded by requestTimeout, and implements spec.md
// §9's proxy policy: the first 200/201 response wins and cancels the
// rest; if none succeed, the first non-200 response is returned; if
// every call errors out entirely, ok is false (caller returns 503).
func (h *Handler) fanOut(ctx context.Context, method string, replicas []string, path string, body any) (status int, respBody []byte, peer string, ok bool) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, nil, "", false
	}

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan proxyResult, len(replicas))
	var wg sync.WaitGroup
	for _, r := range replicas {
		wg.Add(1)
		go func(peer string) {
			defer wg.Done()
			reqCtx, rcancel := context.WithTimeout(cctx, requestTimeout)
			defer rcancel()

			req, err := http.NewRequestWithContext(reqCtx, method, fmt.Sprintf("http://%s%s", peer, path), bytes.NewReader(data))
			if err != nil {
				results <- proxyResult{peer: peer, err: err}
				return
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := h.httpClient.Do(req)
			if err != nil {
				results <- proxyResult{peer: peer, err: err}
				return
			}
			defer resp.Body.Close()
			b, _ := io.ReadAll(resp.Body)
			results <- proxyResult{peer: peer, status: resp.StatusCode, body: b}
		}(r)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var firstNon200 *proxyResult
	for res := range results {
		if res.err != nil {
			continue
		}
		if res.status == http.StatusOK || res.status == http.StatusCreated {
			cancel()
			return res.status, res.body, res.peer, true
		}
		if firstNon200 == nil {
			r := res
			firstNon200 = &r
		}
	}

	if firstNon200 != nil {
		return firstNon200.status, firstNon200.body, firstNon200.peer, true
	}
	return 0, nil, "", false
}
