// Package main is the polybugger-mcp broker's entrypoint: a
// spf13/cobra root command wiring together the registry, persistence
// store, container backends, and both external front-end transports.
//
// Grounded on commands/root.go's NewRootCmd shape (a root *cobra.Command
// with PersistentFlags plus subcommands added via AddCommand), trimmed
// down from its docker-CLI-plugin machinery (dockerCli.Initialize,
// plugin.PersistentPreRunE) since this binary is not a Docker CLI
// plugin and runs standalone.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/polybugger/polybugger-mcp/adapter"
	"github.com/polybugger/polybugger-mcp/adapter/delve"
	"github.com/polybugger/polybugger-mcp/adapter/lldb"
	"github.com/polybugger/polybugger-mcp/adapter/node"
	"github.com/polybugger/polybugger-mcp/adapter/python"
	"github.com/polybugger/polybugger-mcp/brokererr"
	"github.com/polybugger/polybugger-mcp/container"
	containerdocker "github.com/polybugger/polybugger-mcp/container/docker"
	"github.com/polybugger/polybugger-mcp/container/kubernetes"
	containerpodman "github.com/polybugger/polybugger-mcp/container/podman"
	"github.com/polybugger/polybugger-mcp/frontend"
	frontendhttp "github.com/polybugger/polybugger-mcp/frontend/http"
	"github.com/polybugger/polybugger-mcp/internal/config"
	intlog "github.com/polybugger/polybugger-mcp/internal/log"
	"github.com/polybugger/polybugger-mcp/persistence"
	"github.com/polybugger/polybugger-mcp/registry"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var nodeDebugServerPath string

	root := &cobra.Command{
		Use:           "polybugger-mcp",
		Short:         "Multi-language debugging broker exposing a uniform DAP-backed API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&nodeDebugServerPath, "node-debug-server", "", "path to js-debug's debugServer entry point (overrides PYBUGGER_MCP_NODE_DEBUG_SERVER)")

	root.AddCommand(newServeCmd(&nodeDebugServerPath))
	root.AddCommand(newSessionsCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// profileResolver builds the five language adapter.Profiles once and
// returns a frontend.ProfileResolver closed over them.
func profileResolver(nodeDebugServerPath string) frontend.ProfileResolver {
	if nodeDebugServerPath == "" {
		nodeDebugServerPath = os.Getenv("PYBUGGER_MCP_NODE_DEBUG_SERVER")
	}
	profiles := map[adapter.Language]adapter.Profile{
		adapter.Python: python.New(),
		adapter.JS:     node.New(nodeDebugServerPath),
		adapter.Go:     delve.New(),
		adapter.Rust:   lldb.New(),
		adapter.Native: lldb.New(),
	}
	return func(lang adapter.Language) (adapter.Profile, error) {
		p, ok := profiles[lang]
		if !ok {
			return nil, brokererr.New(brokererr.KindInvalidArgument, nil, "unsupported language %q", lang)
		}
		return p, nil
	}
}

// containerBackends builds every container.Backend that can be
// constructed in this environment; a backend that fails to initialize
// (e.g. no kubeconfig reachable) is logged and simply omitted, per
// spec.md 4.10's "RuntimeUnavailable" for unconfigured runtimes.
func containerBackends(log interface{ Warn(args ...any) }) map[container.Runtime]container.Backend {
	backends := map[container.Runtime]container.Backend{
		container.Docker: containerdocker.New(),
		container.Podman: containerpodman.New(),
	}
	if kb, err := kubernetes.New(); err == nil {
		backends[container.Kubernetes] = kb
	} else {
		log.Warn("kubernetes container backend unavailable: " + err.Error())
	}
	return backends
}

func buildDispatcher(cfg config.Config, nodeDebugServerPath string) (*frontend.Dispatcher, *registry.Registry, error) {
	logEntry, err := intlog.Setup(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	store, err := persistence.Open(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}

	reg := registry.New(registry.Options{
		MaxSessions:    cfg.MaxSessions,
		SessionTimeout: cfg.SessionTimeout(),
		Logger:         logEntry,
	})

	resolve := profileResolver(nodeDebugServerPath)
	backends := containerBackends(logEntry)

	d := &frontend.Dispatcher{
		Registry:          reg,
		Store:             store,
		Profiles:          resolve,
		ContainerBackends: backends,
		Logger:            logEntry,
	}

	snapshots, err := store.ListRecoverable()
	if err != nil {
		return nil, nil, err
	}
	for _, snap := range snapshots {
		profile, err := resolve(snap.Descriptor.Language)
		if err != nil {
			logEntry.WithField("session", snap.Descriptor.ID).Warn("dropping unrecoverable snapshot: " + err.Error())
			continue
		}
		s := persistence.RecoverSession(snap, store, profile)
		if err := reg.Create(s); err != nil {
			logEntry.WithField("session", snap.Descriptor.ID).Warn("failed to re-register recovered session: " + err.Error())
		}
	}

	return d, reg, nil
}

func newServeCmd(nodeDebugServerPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the broker's HTTP front end",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			d, _, err := buildDispatcher(cfg, *nodeDebugServerPath)
			if err != nil {
				return err
			}

			logEntry := d.Logger
			server := frontendhttp.NewServer(d, logEntry)

			httpServer := &http.Server{
				Addr:    cfg.Addr(),
				Handler: server,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logEntry.WithField("addr", cfg.Addr()).Info("listening")
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.SessionTimeout())
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			}
			return nil
		},
	}
}

func newSessionsCmd() *cobra.Command {
	sessions := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect sessions recoverable from the on-disk store",
	}
	sessions.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every session recorded under DATA_DIR",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, err := persistence.Open(cfg.DataDir)
			if err != nil {
				return err
			}
			snapshots, err := store.ListRecoverable()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tLANGUAGE\tPROJECT ROOT\tSTATE")
			for _, snap := range snapshots {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", snap.Descriptor.ID, snap.Descriptor.Language, snap.Descriptor.ProjectRoot, snap.Descriptor.State)
			}
			return tw.Flush()
		},
	})
	return sessions
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the broker's version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}
