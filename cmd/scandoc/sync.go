package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one synchronization pass against the WebDAV remote",
	Long: `Run one synchronization pass.

By default only local changes are pushed: unsynced documents are uploaded
and queued deletions are applied remotely. With --full the pass is
bidirectional and also imports documents that exist only on the remote and
merges concurrent edits field by field.`,
	Run: func(cmd *cobra.Command, args []string) {
		full, _ := cmd.Flags().GetBool("full")

		a, err := newApp()
		if err != nil {
			fatal("%v", err)
		}
		defer a.close()

		if !a.sync.Enabled() {
			fatal("no WebDAV remote configured (set webdav.url in %s/scandoc.yaml)", baseDir)
		}

		start := time.Now()
		if err := a.sync.Sync(cmd.Context(), full); err != nil {
			fatal("sync: %v", err)
		}
		fmt.Printf("Sync complete in %v\n", time.Since(start).Round(time.Millisecond))
	},
}

func init() {
	syncCmd.Flags().Bool("full", false, "bidirectional sync including remote-only documents")
	rootCmd.AddCommand(syncCmd)
}
