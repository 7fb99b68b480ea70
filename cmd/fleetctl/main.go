package main

import (
	"github.com/textileio/fleetwatch/cmd/fleetctl/cmd"
)

func main() {
	cmd.Execute()
}
