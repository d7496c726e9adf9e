// Command scandoc manages a local-first library of scanned documents and
// keeps it synchronized with a WebDAV remote.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
