package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"scandoc/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show library and sync status",
	Long: `Display the state of the local library and the sync engine.

Shows document counts, database size, queued remote deletions, and whether
the configured WebDAV remote is reachable.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			fatal("%v", err)
		}
		defer a.close()
		ctx := cmd.Context()

		total, err := a.db.DocumentCount(ctx)
		if err != nil {
			fatal("counting documents: %v", err)
		}
		unsynced, err := a.svc.List(ctx, store.ListFilter{UnsyncedOnly: true})
		if err != nil {
			fatal("listing unsynced documents: %v", err)
		}

		fmt.Printf("\nLibrary\n")
		fmt.Printf("  Data dir:  %s\n", a.cfg.DataDir)
		fmt.Printf("  Database:  %s (%s)\n", a.cfg.DBPath, fileSize(a.cfg.DBPath))
		fmt.Printf("  Documents: %d (%d unsynced)\n", total, len(unsynced))

		fmt.Printf("\nSync\n")
		if !a.sync.Enabled() {
			fmt.Printf("  Remote:    not configured\n\n")
			return
		}
		fmt.Printf("  Remote:    %s (folder %q)\n", a.cfg.WebDAV.URL, a.cfg.WebDAV.Folder)
		fmt.Printf("  Auto sync: %v\n", a.cfg.Sync.Auto)
		if pending := a.sync.PendingDeletions(); len(pending) > 0 {
			fmt.Printf("  Queued remote deletions: %d\n", len(pending))
		}

		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := a.sync.TestConnection(checkCtx); err != nil {
			fmt.Printf("  Reachable: no (%v)\n\n", err)
			return
		}
		fmt.Printf("  Reachable: yes\n\n")
	},
}

func fileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "missing"
	}
	return formatSize(info.Size())
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
