package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.NewApp()
	app.Name = "Treasury"
	app.Usage = "Run a member governed treasury: proposals, votes, bounties and their payouts"
	app.Description = "Proposals are submitted and voted on through the HTTP api. Approved\n" +
		"transfers and function calls are sent to the configured EVM chain, approved\n" +
		"self upgrades are installed from the stored code blob."
	app.Compiled = time.Now()

	cli.VersionPrinter = func(c *cli.Context) {
		printVersion()
	}

	// global flags
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "repo",
			Usage:   "Treasury repo holding treasury.toml, the state db and logs",
			EnvVars: []string{"TREASURY_PATH"},
		},
	}

	app.Commands = []*cli.Command{
		configCMD,
		blobCMD,
		{
			Name:   "start",
			Usage:  "Start the treasury daemon: state db, call executor and HTTP api",
			Action: start,
		},
		{
			Name:    "version",
			Aliases: []string{"v"},
			Usage:   "Show the treasury build version",
			Action: func(ctx *cli.Context) error {
				printVersion()
				return nil
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
