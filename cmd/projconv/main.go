// projconv submits a folder or zip archive to the project conversion service,
// follows the job's progress and stores the converted result.
//
// Sub-commands:
//
//	projconv convert <path> --from python --to go   Convert a project
//	projconv tree <path>                            Show what would be uploaded
//	projconv mock-server                            Run a local fake conversion service
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
