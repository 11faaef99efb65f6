package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/BaSui01/agentwrap/agent/memory"
	"github.com/BaSui01/agentwrap/agent/router"
	agentmcp "github.com/BaSui01/agentwrap/api/mcp"
	"github.com/BaSui01/agentwrap/types"
)

// =============================================================================
// 🖥️ serve / mcp
// =============================================================================

func newServeCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withApp(cmd, func(ctx context.Context, app *App) error {
				return app.Serve(ctx)
			})
		},
	}
}

func newMCPCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve agents as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.loadConfig()
			if err != nil {
				return err
			}
			// stdout 归 MCP 协议使用，日志只能写 stderr
			cfg.Log.OutputPaths = stderrOnly(cfg.Log.OutputPaths)
			return o.withAppConfig(cmd, cfg, func(ctx context.Context, app *App) error {
				srv := agentmcp.NewServer(app.registry, agentmcp.Options{
					Name:         cfg.MCP.Name,
					Version:      Version,
					Instructions: cfg.MCP.Instructions,
				}, app.logger)
				return srv.ServeStdio(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}
}

func stderrOnly(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != "stdout" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = append(out, "stderr")
	}
	return out
}

// =============================================================================
// 🤖 invoke / route
// =============================================================================

func newInvokeCmd(o *rootOptions) *cobra.Command {
	var (
		input string
		set   map[string]string
		user  string
	)
	cmd := &cobra.Command{
		Use:   "invoke <agent>",
		Short: "Invoke an agent and print its typed output as JSON",
		Example: `  agentwrap invoke summarize --set topic="the Go scheduler"
  agentwrap invoke extract --input '{"text":"Alice is 30"}' --user alice`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vars, err := parseInput(input, set)
			if err != nil {
				return err
			}
			return o.withApp(cmd, func(ctx context.Context, app *App) error {
				a, err := app.registry.Agent(args[0])
				if err != nil {
					return err
				}
				out, err := a.Run(types.WithAgent(ctx, args[0]), vars, user)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Template variables as a JSON object")
	cmd.Flags().StringToStringVarP(&set, "set", "s", nil, "Template variable key=value (repeatable)")
	cmd.Flags().StringVarP(&user, "user", "u", "", "Memory user")
	return cmd
}

func newRouteCmd(o *rootOptions) *cobra.Command {
	var (
		routerName string
		user       string
		decideOnly bool
	)
	cmd := &cobra.Command{
		Use:   "route <query>",
		Short: "Route a query to an agent and invoke it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return o.withApp(cmd, func(ctx context.Context, app *App) error {
				if decideOnly {
					rt, err := app.registry.Router(routerName)
					if err != nil {
						return err
					}
					d, err := rt.Route(ctx, query, router.WithUser(user))
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), map[string]any{"decision": d})
				}
				d, out, err := app.registry.Dispatch(ctx, routerName, query, nil, user)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"decision": d, "output": out})
			})
		},
	}
	cmd.Flags().StringVarP(&routerName, "router", "r", "", "Router name; optional with a single router")
	cmd.Flags().StringVarP(&user, "user", "u", "", "Memory user")
	cmd.Flags().BoolVar(&decideOnly, "decide-only", false, "Print the decision without invoking the agent")
	return cmd
}

// parseInput 合并 --input JSON 与 --set 键值，--set 优先
func parseInput(raw string, set map[string]string) (map[string]any, error) {
	vars := map[string]any{}
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &vars); err != nil {
			return nil, fmt.Errorf("--input must be a JSON object: %w", err)
		}
	}
	for k, v := range set {
		vars[k] = v
	}
	return vars, nil
}

// =============================================================================
// 🧠 memory
// =============================================================================

func newMemoryCmd(o *rootOptions) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and edit agent memory",
	}
	cmd.PersistentFlags().StringVarP(&user, "user", "u", "", "Memory user")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print memory statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withApp(cmd, func(ctx context.Context, app *App) error {
				return printJSON(cmd.OutOrStdout(), app.memory.Stats(ctx))
			})
		},
	}

	get := &cobra.Command{
		Use:   "get <agent> <key>",
		Short: "Print one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, app *App) error {
				rec, ok, err := app.memory.Get(ctx, types.NewMemoryScope(user, args[0]), args[1])
				if err != nil {
					return err
				}
				if !ok {
					return types.NewError(types.ErrNotFound, fmt.Sprintf("record %q not found", args[1]))
				}
				return printJSON(cmd.OutOrStdout(), rec)
			})
		},
	}

	var key string
	store := &cobra.Command{
		Use:   "store <agent> <content>",
		Short: "Store a fact in long-term memory",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var meta map[string]string
			if key != "" {
				meta = map[string]string{memory.MetaKey: key}
			}
			return o.withApp(cmd, func(ctx context.Context, app *App) error {
				id, err := app.memory.Store(ctx, types.NewMemoryScope(user, args[0]), strings.Join(args[1:], " "), meta)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]string{"key": id})
			})
		},
	}
	store.Flags().StringVarP(&key, "key", "k", "", "Stable record key; defaults to a content hash")

	var topK int
	recall := &cobra.Command{
		Use:   "recall <agent> <query>",
		Short: "Semantic search over an agent's memory",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, app *App) error {
				recs, err := app.memory.Recall(ctx, types.NewMemoryScope(user, args[0]), strings.Join(args[1:], " "), topK)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), recs)
			})
		},
	}
	recall.Flags().IntVarP(&topK, "top-k", "k", 5, "Maximum number of records")

	del := &cobra.Command{
		Use:   "delete <agent> <key>",
		Short: "Delete one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd, func(ctx context.Context, app *App) error {
				ok, err := app.memory.Delete(ctx, types.NewMemoryScope(user, args[0]), args[1])
				if err != nil {
					return err
				}
				if !ok {
					return types.NewError(types.ErrNotFound, fmt.Sprintf("record %q not found", args[1]))
				}
				return printJSON(cmd.OutOrStdout(), map[string]bool{"deleted": true})
			})
		},
	}

	cmd.AddCommand(stats, get, store, recall, del)
	return cmd
}

// =============================================================================
// 📋 version / health
// =============================================================================

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "AgentWrap %s\n", Version)
			fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
			fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
		},
	}
}

func newHealthCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe a running server's /health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(addr, "/")+"/health", nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("health check failed: status %d", resp.StatusCode)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "Server address")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
