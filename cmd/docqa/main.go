// Command docqa is the entry point for the docqa question answering tool.
// It indexes documents into an in-memory vector index and answers questions
// about them, either from the CLI (via Cobra) or over an HTTP JSON API.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/docqa-go/cmd/docqa/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
