package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/kmahoney/tether/pkg/config"
	"github.com/kmahoney/tether/pkg/mcp"
)

func run(ctx context.Context, configPath, serverID, toolName, toolArgs string, follow bool) error {
	servers, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		return fmt.Errorf("no servers configured in %s", configPath)
	}

	manager := mcp.NewManager()
	defer manager.Close()

	for id, desc := range servers {
		if err := manager.AddServer(desc); err != nil {
			return fmt.Errorf("add %s: %w", id, err)
		}
	}

	for id := range servers {
		if err := manager.ConnectServer(ctx, id); err != nil {
			fmt.Printf("! %s: %v\n", id, err)
		}
	}

	printStatus(ctx, manager)

	if toolName != "" {
		if serverID == "" {
			if len(servers) != 1 {
				return fmt.Errorf("-server is required when more than one server is configured")
			}
			for id := range servers {
				serverID = id
			}
		}
		args, err := parseArgs(toolArgs)
		if err != nil {
			return err
		}
		if err := runTool(ctx, manager, serverID, toolName, args); err != nil {
			return err
		}
	}

	if follow {
		return followEvents(ctx, manager)
	}
	return nil
}

func printStatus(ctx context.Context, manager *mcp.Manager) {
	for _, st := range manager.Status() {
		line := fmt.Sprintf("%s [%s]", st.ID, st.State)
		if st.ServerInfo != nil {
			line += fmt.Sprintf(" %s %s", st.ServerInfo.Name, st.ServerInfo.Version)
		}
		if st.Error != "" {
			line += ": " + st.Error
		}
		fmt.Println(line)

		if st.State != mcp.StateConnected {
			continue
		}
		tools, err := manager.ListTools(ctx, st.ID)
		if err != nil {
			fmt.Printf("  tools: %v\n", err)
			continue
		}
		for _, t := range tools {
			desc := t.Description
			if i := strings.IndexByte(desc, '\n'); i >= 0 {
				desc = desc[:i]
			}
			fmt.Printf("  %-24s %s\n", t.Name, desc)
		}
	}
}

func runTool(ctx context.Context, manager *mcp.Manager, serverID, toolName string, args map[string]any) error {
	rec, err := manager.ExecuteTool(ctx, serverID, toolName, args)
	if err != nil {
		return fmt.Errorf("%s/%s: %w", serverID, toolName, err)
	}

	fmt.Printf("%s/%s %s in %s\n", serverID, toolName, rec.Status, rec.Duration)
	if rec.Result == nil {
		return nil
	}
	for _, block := range rec.Result.Content {
		switch block.Type {
		case "text":
			fmt.Println(block.Text)
		default:
			fmt.Printf("[%s content]\n", block.Type)
		}
	}
	return nil
}

func followEvents(ctx context.Context, manager *mcp.Manager) error {
	events, unsub := manager.Subscribe(64)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case mcp.EventStateChanged:
				if ev.State == mcp.StateReconnecting {
					fmt.Printf("%s: reconnecting (attempt %d)\n", ev.ServerID, ev.Attempt)
					continue
				}
				fmt.Printf("%s: %s\n", ev.ServerID, ev.State)
			case mcp.EventExecutionFinished:
				fmt.Printf("%s: tool %s %s\n", ev.ServerID, ev.Execution.Tool, ev.Execution.Status)
			default:
				fmt.Printf("%s: %s\n", ev.ServerID, ev.Kind)
			}
		}
	}
}
