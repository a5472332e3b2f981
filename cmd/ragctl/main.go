// Command ragctl indexes and searches a local SQLite corpus with the same
// retrieval pipeline the API serves.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
