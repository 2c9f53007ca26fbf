package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "engagementctl",
		Usage: "Operate the Buttondown engagement tracker from the command line",
		Commands: []*cli.Command{
			migrateCmd,
			syncCmd,
			stateCmd,
			webhooksCmd,
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logrus.Fatal(err)
	}
}
