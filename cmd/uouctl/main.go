package main

import (
	"os"

	"github.com/Rohianon/uou/cmd/uouctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
