/*-------------------------------------------------------------------------
 *
 * QPG - MCP Server Command
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package main

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"qpg/internal/config"
	qerrors "qpg/internal/errors"
	"qpg/internal/logging"
	"qpg/internal/mcp"
	"qpg/internal/query"
	"qpg/internal/tools"
)

var (
	mcpHTTP   bool
	mcpHost   string
	mcpPort   int
	mcpDaemon bool
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the retrieval tools over MCP",
	Long: `Serves qpg_search, qpg_deep_search, qpg_get, qpg_status, and
qpg_list_sources over JSON-RPC 2.0. By default the server speaks
line-delimited JSON-RPC on stdio for use as an MCP subprocess; with
--http it listens on an HTTP endpoint instead. The server is
read-only: no tool accepts SQL or mutates the catalog.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if mcpDaemon {
			if !mcpHTTP {
				return qerrors.New(qerrors.KindConfigError, "--daemon requires --http")
			}
			return startDaemon()
		}

		provider, err := queryEmbedder()
		if err != nil {
			return err
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		registry := tools.NewRegistry(tools.Deps{
			Store:   store,
			Planner: &query.Planner{Store: store, Provider: provider},
		})
		server := mcp.NewServer(registry)

		if mcpHTTP {
			addr := fmt.Sprintf("%s:%d", mcpHost, mcpPort)
			logging.Info("starting MCP HTTP server", "addr", addr)
			return server.RunHTTP(&mcp.HTTPConfig{Addr: addr})
		}
		return server.Run()
	},
}

// startDaemon re-execs the server in the background and records its pid.
func startDaemon() error {
	paths, err := config.EnsureDirs(config.GetPaths())
	if err != nil {
		return err
	}
	if pid, err := readPidFile(paths.MCPPidFile); err == nil {
		if alive(pid) {
			return qerrors.Newf(qerrors.KindConfigError,
				"MCP server already running (pid %d)", pid)
		}
		os.Remove(paths.MCPPidFile)
	}

	exe, err := os.Executable()
	if err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "cannot locate own executable", err)
	}
	child := exec.Command(exe, "mcp", "--http",
		"--host", mcpHost, "--port", strconv.Itoa(mcpPort))
	child.Stdout = nil
	child.Stderr = nil
	if err := child.Start(); err != nil {
		return qerrors.Wrap(qerrors.KindInternal, "failed to start MCP server", err)
	}

	pid := child.Process.Pid
	if err := os.WriteFile(paths.MCPPidFile,
		[]byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		_ = child.Process.Kill()
		return qerrors.Wrap(qerrors.KindInternal, "failed to write pid file", err)
	}
	_ = child.Process.Release()
	fmt.Printf("MCP server listening on %s:%d (pid %d)\n", mcpHost, mcpPort, pid)
	return nil
}

var mcpStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a backgrounded MCP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := config.GetPaths()
		pid, err := readPidFile(paths.MCPPidFile)
		if err != nil {
			return qerrors.New(qerrors.KindNotFound, "no MCP server pid file found")
		}
		proc, err := os.FindProcess(pid)
		if err == nil {
			err = proc.Signal(syscall.SIGTERM)
		}
		if err != nil {
			os.Remove(paths.MCPPidFile)
			return qerrors.Newf(qerrors.KindNotFound,
				"MCP server (pid %d) is not running", pid)
		}
		os.Remove(paths.MCPPidFile)
		fmt.Printf("Stopped MCP server (pid %d)\n", pid)
		return nil
	},
}

func readPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func init() {
	mcpCmd.Flags().BoolVar(&mcpHTTP, "http", false, "Serve over HTTP instead of stdio")
	mcpCmd.Flags().StringVar(&mcpHost, "host", "127.0.0.1", "HTTP listen host")
	mcpCmd.Flags().IntVar(&mcpPort, "port", 8080, "HTTP listen port")
	mcpCmd.Flags().BoolVar(&mcpDaemon, "daemon", false, "Run the HTTP server in the background")

	mcpCmd.AddCommand(mcpStopCmd)
	rootCmd.AddCommand(mcpCmd)
}
