package main

import (
	"os"

	"github.com/solatis/propfilter/cmd/propfilter/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
