// cmd/server is the main entrypoint for a causalkv node.
//
// Configuration is entirely via environment variables so a single
// binary can serve any role in the cluster (spec.md §6):
//
//	VIEW         comma-separated list of node addresses, e.g. "a:13800,b:13800,c:13800"
//	REPL_FACTOR  replication factor R
//	ADDRESS      this node's own address, must appear in VIEW
//
// Example — 3-node cluster, started once per process:
//
//	VIEW=localhost:13800,localhost:13801,localhost:13802 REPL_FACTOR=3 ADDRESS=localhost:13800 ./server
//	VIEW=localhost:13800,localhost:13801,localhost:13802 REPL_FACTOR=3 ADDRESS=localhost:13801 ./server
//	VIEW=localhost:13800,localhost:13801,localhost:13802 REPL_FACTOR=3 ADDRESS=localhost:13802 ./server
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"causalkv/internal/api"
	"causalkv/internal/gossip"
	"causalkv/internal/node"
	"causalkv/internal/observability"
	"causalkv/internal/topology"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultPort = ":13800"

func main() {
	viewCSV := os.Getenv("VIEW")
	address := os.Getenv("ADDRESS")
	replFactor := envInt("REPL_FACTOR", 3)
	debug := os.Getenv("DEBUG") == "1"

	log, err := observability.NewLogger(debug)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if viewCSV == "" || address == "" {
		log.Fatal("VIEW and ADDRESS must both be set")
	}

	view, err := topology.New(viewCSV, replFactor, 0, address)
	if err != nil {
		log.Fatal("build view", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	n := node.New(address, view, replFactor, log, metrics)
	engine := gossip.New(n, log, metrics)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.Logger(log), api.Recovery(log))
	api.NewHandler(n, engine, log, metrics).Register(router)

	listenAddr := addressToListenAddr(address)
	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	gossipCtx, stopGossip := context.WithCancel(context.Background())
	go engine.Run(gossipCtx)

	go func() {
		log.Info("listening",
			zap.String("address", address),
			zap.Int("current_view", view.CurrentView),
			zap.Int("num_shards", view.NumShards()),
			zap.Int("repl_factor", replFactor),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down", zap.String("address", address))
	stopGossip()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}
}

// addressToListenAddr strips a host from "host:port" addresses so the
// server binds on all interfaces while still advertising the full
// host:port in VIEW for peers to dial. If address carries no host
// (":13800"), it's used as-is.
func addressToListenAddr(address string) string {
	for i := 0; i < len(address); i++ {
		if address[i] == ':' {
			return address[i:]
		}
	}
	return defaultPort
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return fallback
		}
		n = n*10 + int(c-'0')
	}
	return n
}
