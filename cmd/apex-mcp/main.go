// Command apex-mcp is the standalone Model-Context-Protocol stdio
// server a worker subprocess's .mcp.json points at: one process per
// worker, talking line-delimited JSON over its own stdin/stdout, per
// spec §4.B. Grounded on the teacher's cmd entrypoints' flag parsing
// and plain os.Exit(1) error handling.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/nibzard/apex/internal/config"
	"github.com/nibzard/apex/internal/mcpserver"
	"github.com/nibzard/apex/internal/store"
	"github.com/nibzard/apex/internal/telemetry"
)

func main() {
	storePath := flag.String("store", "data/apex.db", "Path to the shared ordered key-value store")
	configPath := flag.String("config", "", "Orchestration kernel configuration file (optional; falls back to defaults)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "apex-mcp: load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *storePath != "" {
		cfg.Store.Path = *storePath
	}

	st, err := store.Open(cfg.Store.Path, store.Options{MaxBytes: cfg.Store.MaxBytes})
	if err != nil {
		fmt.Fprintf(os.Stderr, "apex-mcp: open store %s: %v\n", cfg.Store.Path, err)
		os.Exit(1)
	}
	defer st.Close()

	log := telemetry.NewLogger("MCP")
	srv := mcpserver.New(st, cfg.MCP, log)
	if err := srv.Serve(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "apex-mcp: serve: %v\n", err)
		os.Exit(1)
	}
}
