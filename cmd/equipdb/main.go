package main

import (
	"fmt"
	"os"

	"equipdb/internal/cli"

	// register all backends with the storage factory.
	// config specifies which to use but we need to build in support for all of them.
	_ "equipdb/internal/storage/all"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
