// Package api wires up the Gin HTTP router with all handler functions,
// translating spec.md §6's client and internal API tables onto a
// node.Handler.
package api

import (
	"net/http"
	"strconv"

	"causalkv/internal/gossip"
	"causalkv/internal/node"
	"causalkv/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler holds all dependencies injected from main.
type Handler struct {
	node    *node.Handler
	gossip  *gossip.Engine
	log     *zap.Logger
	metrics *observability.Metrics
}

// NewHandler creates a Handler.
func NewHandler(n *node.Handler, g *gossip.Engine, log *zap.Logger, metrics *observability.Metrics) *Handler {
	return &Handler{node: n, gossip: g, log: log, metrics: metrics}
}

// Register mounts every route from spec.md §6 on r, plus the ambient
// /health and /metrics endpoints every pack service carries.
func (h *Handler) Register(r *gin.Engine) {
	kv := r.Group("/kvs")
	kv.PUT("/keys/:key", h.putKey)
	kv.GET("/keys/:key", h.getKey)
	kv.GET("/key-count", h.keyCount)
	kv.GET("/shards", h.shards)
	kv.GET("/shards/:id", h.shardInfo)
	kv.PUT("/view-change", h.viewChange)

	internal := kv.Group("/reshard")
	internal.PUT("/prime", h.reshardPrime)
	internal.PUT("/rehash", h.reshardRehash)
	internal.PUT("/put_payload", h.reshardPutPayload)
	internal.PUT("/set_new_view", h.reshardSetNewView)
	internal.GET("/reshard", h.reshardTrigger)
	internal.GET("/get_keys", h.reshardGetKeys)
	internal.GET("/send_keys_to_replicas", h.reshardSendKeysToReplicas)

	kv.GET("/gossip", h.gossipInbound)

	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.metrics.Registry(), promhttp.HandlerOpts{})))
}

// ─── Client API ─────────────────────────────────────────────────────────

func (h *Handler) putKey(c *gin.Context) {
	var req node.PutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status, resp := h.node.HandlePut(c.Request.Context(), c.Param("key"), req)
	c.JSON(status, resp)
}

func (h *Handler) getKey(c *gin.Context) {
	var req node.GetRequest
	_ = c.ShouldBindJSON(&req)
	status, resp := h.node.HandleGet(c.Request.Context(), c.Param("key"), req)
	c.JSON(status, resp)
}

func (h *Handler) keyCount(c *gin.Context) {
	c.JSON(http.StatusOK, h.node.HandleKeyCount())
}

func (h *Handler) shards(c *gin.Context) {
	c.JSON(http.StatusOK, h.node.HandleShards())
}

func (h *Handler) shardInfo(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "shard id must be an integer"})
		return
	}
	status, resp := h.node.HandleShardInfo(c.Request.Context(), id)
	c.JSON(status, resp)
}

func (h *Handler) viewChange(c *gin.Context) {
	var req node.ViewChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status, resp := h.node.HandleViewChange(c.Request.Context(), req)
	c.JSON(status, resp)
}

// ─── Internal (peer-to-peer) API ────────────────────────────────────────

func (h *Handler) reshardPrime(c *gin.Context) {
	c.JSON(http.StatusOK, h.node.HandlePrime(c.Request.Context()))
}

func (h *Handler) reshardRehash(c *gin.Context) {
	var req node.SetNewViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.node.HandleRehash(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handler) reshardPutPayload(c *gin.Context) {
	var req node.PutPayloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.node.HandlePutPayload(req)
	c.Status(http.StatusOK)
}

func (h *Handler) reshardSetNewView(c *gin.Context) {
	var req node.SetNewViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.node.HandleSetNewView(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handler) reshardTrigger(c *gin.Context) {
	h.node.HandleReshard(c.Request.Context())
	c.Status(http.StatusOK)
}

func (h *Handler) reshardGetKeys(c *gin.Context) {
	c.JSON(http.StatusOK, h.node.HandleGetKeys())
}

func (h *Handler) reshardSendKeysToReplicas(c *gin.Context) {
	c.JSON(http.StatusOK, h.node.HandleSendKeysToReplicas(c.Request.Context()))
}

func (h *Handler) gossipInbound(c *gin.Context) {
	var payload gossip.Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, ok := h.node.HandleInbound(payload)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "sender is not a shard peer"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ─── Ambient endpoints ──────────────────────────────────────────────────

func (h *Handler) health(c *gin.Context) {
	view := h.node.View()
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"address":      view.Self(),
		"current_view": view.CurrentView,
		"num_shards":   view.NumShards(),
		"key_count":    h.node.KeyCount(),
	})
}
