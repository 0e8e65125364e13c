// Command azdev maintains a local cache of Azure DevOps work items, pull
// requests, and pipeline builds for the searches the user has saved, and
// serves reads from that cache without blocking on the network.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
