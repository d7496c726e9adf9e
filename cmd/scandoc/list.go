package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"scandoc/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	Long: `List documents, newest first.

With --folder only documents filed into that folder are shown; with
--unsynced only documents carrying local changes not yet pushed.`,
	Run: func(cmd *cobra.Command, args []string) {
		folderID, _ := cmd.Flags().GetInt64("folder")
		unsynced, _ := cmd.Flags().GetBool("unsynced")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp()
		if err != nil {
			fatal("%v", err)
		}
		defer a.close()

		documents, err := a.svc.List(cmd.Context(), store.ListFilter{
			FolderID:     folderID,
			UnsyncedOnly: unsynced,
			Limit:        limit,
		})
		if err != nil {
			fatal("listing documents: %v", err)
		}
		if len(documents) == 0 {
			fmt.Println("No documents.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPAGES\tSIZE\tSYNCED\tMODIFIED")
		for _, d := range documents {
			var size int64
			for _, p := range d.Pages {
				size += p.Size
			}
			synced := "yes"
			if d.Synced == 0 {
				synced = "no"
			}
			modified := time.UnixMilli(d.ModifiedDate).Format("2006-01-02 15:04")
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
				d.ID, d.Name, len(d.Pages), formatSize(size), synced, modified)
		}
		w.Flush()
	},
}

var foldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "List folders with document counts and sizes",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			fatal("%v", err)
		}
		defer a.close()

		folders, err := a.svc.Folders(cmd.Context())
		if err != nil {
			fatal("listing folders: %v", err)
		}
		if len(folders) == 0 {
			fmt.Println("No folders.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tDOCUMENTS\tSIZE")
		for _, f := range folders {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", f.ID, f.Name, f.Count, formatSize(f.Size))
		}
		w.Flush()
	},
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d B", size)
	}
}

func init() {
	listCmd.Flags().Int64("folder", 0, "only documents in this folder id")
	listCmd.Flags().Bool("unsynced", false, "only documents with unpushed local changes")
	listCmd.Flags().Int("limit", 0, "maximum number of documents to show")
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(foldersCmd)
}
