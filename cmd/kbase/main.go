// Command kbase is the entry point for the document knowledge base. It
// ingests uploaded documents into a vector index and answers questions
// grounded in them, through a CLI (via Cobra) and an HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/kbase-go/cmd/kbase/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
