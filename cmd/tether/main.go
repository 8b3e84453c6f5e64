// Tether connects to the MCP servers in a config file, prints their status
// and tools, and can run a single tool call.
//
// Usage:
//
//	# List every configured server and its tools
//	go run ./cmd/tether/ -config servers.yaml
//
//	# Call one tool and print the result
//	go run ./cmd/tether/ -config servers.yaml -server s1 -tool echo -args '{"msg":"hi"}'
//
//	# Stay connected and follow registry events
//	go run ./cmd/tether/ -config servers.yaml -follow
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	configPath := flag.String("config", "servers.yaml", "Path to the server config file")
	serverID := flag.String("server", "", "Server id for -tool (defaults to the only configured server)")
	toolName := flag.String("tool", "", "Tool to call (omit to just list)")
	toolArgs := flag.String("args", "{}", "Tool arguments as JSON")
	follow := flag.Bool("follow", false, "Stay connected and print registry events")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, *configPath, *serverID, *toolName, *toolArgs, *follow); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseArgs(raw string) (map[string]any, error) {
	args := map[string]any{}
	if raw == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("parse -args: %w", err)
	}
	return args, nil
}
