package main

import (
	"os"
	"strings"

	"github.com/lagrangedao/go-tee-worker/build"
	"github.com/urfave/cli/v2"
)

const (
	FlagRepo = "repo"
)

func main() {
	app := &cli.App{
		Name:                 "tee-worker",
		Usage:                "A worker node that runs confidential computing tasks assigned by a workerpool scheduler and takes part in their on-chain consensus.",
		EnableBashCompletion: true,
		Version:              build.UserVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    FlagRepo,
				EnvVars: []string{"WORKER_PATH"},
				Usage:   "worker repo path",
				Value:   "~/.swan/tee-worker",
			},
		},
		Commands: []*cli.Command{
			runCmd,
			taskCmd,
			walletCmd,
		},
	}
	app.Setup()

	if err := app.Run(os.Args); err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func repoPath(cctx *cli.Context) (string, error) {
	p := cctx.String(FlagRepo)
	if strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = home + p[1:]
	}
	return p, nil
}
