// Command smcnode runs and operates impact-smc nodes.
//
//	smcnode run --config node.yaml
//	smcnode run --wait-config --listen :5000
//	smcnode query --node http://coord:5000 study42
//	smcnode prepare --node http://coord:5000
//	smcnode seed --config node.yaml study42 10
package main

import (
	"fmt"
	"os"

	cli "github.com/urfave/cli/v2"
)

// Automatically set through -ldflags
var (
	version   = "dev"
	gitCommit = "none"
	buildDate = "unknown"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to a YAML or TOML config file",
		EnvVars: []string{"SMC_CONFIG"},
	}
	nodeFlag = &cli.StringFlag{
		Name:  "node",
		Usage: "Base URL of the node to call",
		Value: "http://localhost:5000",
	}
)

func newApp() *cli.App {
	app := &cli.App{
		Name:     "smcnode",
		Version:  version,
		Usage:    "three-party secure aggregation node",
		Commands: []*cli.Command{runCmd, queryCmd, prepareCmd, seedCmd},
	}
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Fprintf(c.App.Writer, "smcnode %v (date %v, commit %v)\n", version, buildDate, gitCommit)
	}
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %+v\n", err)
		os.Exit(1)
	}
}
