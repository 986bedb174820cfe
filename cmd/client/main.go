// cmd/client is the CLI entry-point built with Cobra.
//
// Each invocation is a fresh process, so the causal context returned
// by one call is persisted to a small JSON file between invocations
// (~/.causalkv_ctx.json by default) and threaded into the next — that's
// what keeps a sequence of `kvcli` calls causally consistent even
// though there's no long-lived client process to hold state in memory.
//
// Usage:
//
//	kvcli put mykey "hello world"  --server http://localhost:13800
//	kvcli get mykey                --server http://localhost:13800
//	kvcli view-change a:13800,b:13800,c:13800 --repl-factor 3 --server http://localhost:13800
//	kvcli shards                   --server http://localhost:13800
//	kvcli key-count                --server http://localhost:13800
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"causalkv/internal/causal"
	"causalkv/internal/client"

	"github.com/spf13/cobra"
)

var (
	serverAddr string
	timeout    time.Duration
	ctxFile    string
)

func main() {
	root := &cobra.Command{
		Use:   "kvcli",
		Short: "CLI client for causalkv",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:13800", "causalkv node address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")
	root.PersistentFlags().StringVar(&ctxFile, "ctx-file",
		defaultCtxFile(), "file used to persist the causal context between calls")

	root.AddCommand(putCmd(), getCmd(), viewChangeCmd(), shardsCmd(), shardInfoCmd(), keyCountCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ─── put ────────────────────────────────────────────────────────────────

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Store a key-value pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			causalCtx := loadCtx()
			resp, err := c.Put(context.Background(), args[0], args[1], causalCtx)
			if err != nil {
				return err
			}
			saveCtx(resp.CausalContext)
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── get ────────────────────────────────────────────────────────────────

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Retrieve a value by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			causalCtx := loadCtx()
			resp, err := c.Get(context.Background(), args[0], causalCtx)
			if err == client.ErrNotFound {
				fmt.Printf("key %q not found\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			saveCtx(resp.CausalContext)
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── view-change ────────────────────────────────────────────────────────

func viewChangeCmd() *cobra.Command {
	var replFactor int
	cmd := &cobra.Command{
		Use:   "view-change <comma-separated-addresses>",
		Short: "Trigger a reshard to a new view and replication factor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.ViewChange(context.Background(), args[0], replFactor)
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
	cmd.Flags().IntVar(&replFactor, "repl-factor", 3, "replication factor for the new view")
	return cmd
}

// ─── shards / shard-info / key-count ────────────────────────────────────

func shardsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shards",
		Short: "List the cluster's shard indices",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.Shards(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

func shardInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shard-info <id>",
		Short: "Show key count and replica addresses for a shard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("shard id must be an integer: %w", err)
			}
			c := client.New(serverAddr, timeout)
			resp, err := c.ShardInfo(context.Background(), id)
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

func keyCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "key-count",
		Short: "Show this node's local key count",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.KeyCount(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── causal context persistence ─────────────────────────────────────────

func defaultCtxFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".causalkv_ctx.json"
	}
	return filepath.Join(home, ".causalkv_ctx.json")
}

func loadCtx() causal.Ctx {
	var out causal.Ctx
	data, err := os.ReadFile(ctxFile)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(data, &out)
	return out
}

func saveCtx(c causal.Ctx) {
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	_ = os.WriteFile(ctxFile, data, 0o644)
}

// ─── helpers ─────────────────────────────────────────────────────────────

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
