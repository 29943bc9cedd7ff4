// Command chamad runs the chama contribution ledger: the RPC server with its
// worker pool, the maintenance sweeps and service token issuance.
package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
