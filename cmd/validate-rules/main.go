package main

import (
	"fmt"
	"os"

	"github.com/blockedby/tg-forwarder/internal/rulesfile"
)

// checks rules files without touching the database. intended for CI
// and pre-commit hooks.
func main() {
	if len(os.Args) < 2 {
		fmt.Println("No files to check.")
		os.Exit(0)
	}

	failed := false
	for _, path := range os.Args[1:] {
		f, err := rulesfile.Load(path)
		if err != nil {
			fmt.Printf("❌ %s: %v\n", path, err)
			failed = true
			continue
		}
		fmt.Printf("✅ %s is valid (%d rules)\n", path, len(f.Rules))
	}

	if failed {
		os.Exit(1)
	}
}
