// Command blz indexes llms.txt-style documentation bundles and serves
// heading-scoped full-text search and exact-citation retrieval over them.
package main

import (
	"fmt"
	"os"

	"github.com/blzsearch/blz/pkg/cmd"
)

var (
	version = "dev"
	appName = "blz"
)

func main() {
	root := cmd.InitCommand(cmd.BuildInfo{Version: version, AppName: appName})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
