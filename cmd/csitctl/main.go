// Command csitctl drives system integration test steps against a network
// controller: it runs and supervises tool processes locally or over SSH,
// waits for RESTCONF and BGP observables to converge, and issues LSP
// update load.
package main

import (
	"os"

	"github.com/dantte-lp/gocsit/cmd/csitctl/commands"
)

func main() {
	os.Exit(commands.Execute())
}
