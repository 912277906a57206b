package main

import (
	"os"

	"github.com/solatis/autogift/cmd/autogift/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
