// Command sipcored runs the signaling engine as a standalone daemon.
package main

import (
	"os"

	"github.com/openpbx/sipcore/cmd/sipcored/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
