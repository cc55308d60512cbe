package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"golang.org/x/exp/slog"
)

func init() {
	// Enforce uppercase version shorthand flag
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"V"},
		Usage:   "show version",
	}
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("%s\n", c.App.Version)
	}
}

var version = "dev"

func main() {
	cliApp := &cli.App{
		Name:    "walfeed",
		Usage:   "Stream decoded WAL from a PostgreSQL logical replication slot.",
		Version: version,
		Commands: []*cli.Command{
			newStreamCommand(),
			newIdentifyCommand(),
			newStatusCommand(),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}
