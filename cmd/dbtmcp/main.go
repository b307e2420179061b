package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbtmcp/dbt-mcp/internal/config"
	"github.com/dbtmcp/dbt-mcp/internal/gateway"
	"github.com/dbtmcp/dbt-mcp/internal/mcp"
	"github.com/dbtmcp/dbt-mcp/internal/tool"
)

const version = "0.1.0"

// errDrift makes the process exit non-zero after the drift report is printed.
var errDrift = errors.New("tool set drift detected")

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		if !errors.Is(err, errDrift) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "dbtmcp",
		Short:         "dbt MCP tool registry and gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.AddCommand(
		newVersionCmd(),
		newGroupsCmd(),
		newToolsCmd(),
		newValidateCmd(),
		newInitCmd(),
		newServeCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dbtmcp v%s\n", version)
		},
	}
}

func newGroupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List tool groups",
		Run: func(cmd *cobra.Command, _ []string) {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "GROUP\tTOOLS\tDISABLE WITH")
			for _, g := range tool.Groups() {
				members, _ := tool.ToolsInGroup(g)
				fmt.Fprintf(w, "%s\t%d\t%s=true\n", g, len(members), config.DisableGroupEnv(g))
			}
			w.Flush()
		},
	}
}

func newToolsCmd() *cobra.Command {
	var enabledOnly bool
	var configPath string
	cmd := &cobra.Command{
		Use:   "tools [group]",
		Short: "List tool names, optionally for one group",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names := tool.AllNames()
			if len(args) == 1 {
				g, err := tool.ParseGroup(args[0])
				if err != nil {
					return err
				}
				names, _ = tool.ToolsInGroup(g)
			}

			if enabledOnly {
				cfg, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				policy, err := config.Policy(cfg)
				if err != nil {
					return err
				}
				names = filterAllowed(names, policy)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, n := range names {
				group := "-"
				if g, ok := n.Group(); ok {
					group = string(g)
				}
				fmt.Fprintf(w, "%s\t%s\n", n, group)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "only list tools enabled by config and environment")
	cmd.Flags().StringVar(&configPath, "config", "", "config file (default $DBT_MCP_HOME/config.yaml)")
	return cmd
}

func filterAllowed(names []tool.Name, policy *tool.Policy) []tool.Name {
	var out []tool.Name
	for _, n := range names {
		if policy.IsAllowed(n) {
			out = append(out, n)
		}
	}
	return out
}

func newValidateCmd() *cobra.Command {
	var serverCmd string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Compare a server's tool list against the registry",
		Long: "Reads a YAML or JSON tool list (names, or a tools/list result) from file,\n" +
			"or launches an MCP server over stdio with --server, and reports tools that\n" +
			"are missing from the server or unknown to the registry.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var served []string
			switch {
			case strings.TrimSpace(serverCmd) != "" && len(args) == 0:
				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				defer cancel()
				fields := strings.Fields(serverCmd)
				tools, err := mcp.ListTools(ctx, mcp.NewStdioTransport(fields[0], fields[1:], nil),
					mcp.ClientInfo{Name: "dbtmcp", Version: version})
				if err != nil {
					return err
				}
				served = mcp.ToolNames(tools)
			case serverCmd == "" && len(args) == 1:
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				if served, err = parseServedTools(data); err != nil {
					return fmt.Errorf("%s: %w", args[0], err)
				}
			default:
				return errors.New("pass either a file or --server")
			}
			return reportDrift(cmd.OutOrStdout(), served)
		},
	}
	cmd.Flags().StringVar(&serverCmd, "server", "", `MCP server command to launch, e.g. "uvx dbt-mcp"`)
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "timeout for --server")
	return cmd
}

func reportDrift(out io.Writer, served []string) error {
	err := tool.ValidateServerTools(served)
	var drift *tool.DriftError
	if !errors.As(err, &drift) {
		fmt.Fprintf(out, "ok: %d tools match the registry\n", len(served))
		return err
	}
	for _, name := range drift.Missing {
		fmt.Fprintf(out, "missing  %s\n", name)
	}
	for _, name := range drift.Extra {
		fmt.Fprintf(out, "extra    %s\n", name)
	}
	for _, name := range drift.Duplicate {
		fmt.Fprintf(out, "dup      %s\n", name)
	}
	return errDrift
}

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write an example config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ResolveConfigPath("")
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.CreateFromExample(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(config.ResolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "config file (default $DBT_MCP_HOME/config.yaml)")
	return cmd
}

func loadConfig(flagPath string) (*config.Config, error) {
	path := config.ResolveConfigPath(flagPath)
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return config.DefaultConfig(), nil
	}
	return cfg, err
}

func serve(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	watch := err == nil
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		cfg = config.DefaultConfig()
	}
	setupLogging(cfg.Log.Level)
	if !watch {
		slog.Warn("config not found, using defaults", "path", cfgPath)
	}
	slog.Info("dbt-mcp starting", "version", version, "config", cfgPath)
	config.Set(cfg)

	srv, err := gateway.NewServer(cfg)
	if err != nil {
		return err
	}
	config.RegisterOnReload(srv.Reload)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutdown signal received", "signal", sig)
		cancel()
	}()

	if watch {
		go config.Watch(ctx, cfgPath)
	}
	return srv.Start(ctx)
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
