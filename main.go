package main

import (
	"os"

	"github.com/yeremiapane/tablesync/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
