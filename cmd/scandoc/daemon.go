package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"scandoc/internal/config"
	"scandoc/internal/dashboard"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync daemon",
	Long: `Run scandoc as a long-lived process.

The daemon watches the event bus and pushes local changes to the WebDAV
remote as they happen (subject to the sync cooldown), starting with one
full bidirectional pass. The config file is watched so sync.auto toggles
apply without a restart.

With dashboard.enabled a WebSocket server broadcasts document and sync
events to connected clients:
  scandoc daemon
  ws://localhost:<dashboard.port>/ws`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			fatal("%v", err)
		}
		defer a.close()

		if !a.sync.Enabled() {
			fatal("no WebDAV remote configured (set webdav.url in %s/scandoc.yaml)", baseDir)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a.loader.OnChange(func(cfg *config.Config) {
			a.sync.SetAuto(cfg.Sync.Auto)
		})
		a.loader.Watch()

		var server *dashboard.Server
		var bridge *dashboard.Bridge
		if a.cfg.Dashboard.Enabled {
			server = dashboard.NewServer(a.cfg.Dashboard.Port, a.logger("[dashboard] "))
			if err := server.Start(); err != nil {
				fatal("starting dashboard: %v", err)
			}
			bridge = dashboard.NewBridge(server, a.logger("[dashboard] "))
			bridge.Attach(a.bus)
			fmt.Printf("Dashboard: ws://localhost%s/ws\n", portSuffix(server.Addr()))
		}

		// One full bidirectional pass up front, then event-driven pushes.
		if err := a.sync.Sync(ctx, true); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: initial sync: %v\n", err)
		}
		a.sync.Start(ctx)

		fmt.Printf("Syncing %s against %s\n", a.cfg.DataDir, a.cfg.WebDAV.URL)
		fmt.Println("Press Ctrl+C to stop...")
		<-ctx.Done()

		fmt.Println("\nShutting down...")
		a.sync.Stop()
		if bridge != nil {
			bridge.Detach()
		}
		if server != nil {
			if err := server.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "Error stopping dashboard: %v\n", err)
			}
		}
	},
}

// portSuffix extracts ":port" from a listen address like "[::]:8414".
func portSuffix(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[i:]
		}
	}
	return addr
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
