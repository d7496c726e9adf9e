package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"scandoc/internal/docs"
	"scandoc/internal/model"
)

var importCmd = &cobra.Command{
	Use:   "import <image>...",
	Short: "Create a document from one or more image files",
	Long: `Create a new document with one page per image file, in the given order.

Images are re-encoded at the configured format and quality and stored under
the document's data folder. With --folder the document is filed into the
named folder, creating it if needed.

Example usage:
  scandoc import scan1.jpg scan2.jpg
  scandoc import --name "Lease 2026" --folder Contracts lease.png`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")
		folderName, _ := cmd.Flags().GetString("folder")

		a, err := newApp()
		if err != nil {
			fatal("%v", err)
		}
		defer a.close()

		inputs := make([]docs.PageInput, 0, len(args))
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				fatal("reading %s: %v", path, err)
			}
			inputs = append(inputs, docs.PageInput{ImageData: data})
		}

		var folder *model.Folder
		if folderName != "" {
			folder = &model.Folder{Name: folderName}
		}

		doc, err := a.svc.CreateDocument(cmd.Context(), inputs, folder)
		if err != nil {
			fatal("creating document: %v", err)
		}
		if name != "" {
			if err := doc.Save(cmd.Context(), model.Fields{"name": name}, true, false); err != nil {
				fatal("renaming document: %v", err)
			}
		}

		fmt.Printf("Created document %s (%q, %d pages)\n", doc.ID, doc.Name, len(doc.Pages))
		if folderName != "" {
			fmt.Printf("Filed into folder %q\n", folderName)
		}
	},
}

func init() {
	importCmd.Flags().String("name", "", "document name (default: derived from creation time)")
	importCmd.Flags().String("folder", "", "file the document into this folder")
	rootCmd.AddCommand(importCmd)
}
