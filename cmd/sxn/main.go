// Command sxn provisions git worktree sessions from a declarative rules file.
package main

import (
	"os"

	"github.com/Iron-Ham/sxn/internal/cmd"
	"github.com/Iron-Ham/sxn/internal/security"
)

func main() {
	err := cmd.Execute()
	// Wipe protected key material before exiting; os.Exit skips defers.
	security.Purge()
	if err != nil {
		os.Exit(1)
	}
}
