// Package main provides the tabwright command-line tool.
package main

import (
	"os"

	"github.com/tabwright-labs/tabwright/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
