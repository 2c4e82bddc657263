package main

import (
	"os"

	"github.com/planetscale/memlayers/go/cmd/leaktrace/cli"
	"github.com/planetscale/memlayers/go/log"
)

func main() {
	defer log.Flush()
	if err := cli.Main.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
