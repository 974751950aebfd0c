package main

import (
	"context"
	"strconv"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/lagrangedao/go-tee-worker/conf"
	"github.com/lagrangedao/go-tee-worker/internal/api"
	"github.com/lagrangedao/go-tee-worker/internal/initializer"
	"github.com/lagrangedao/go-tee-worker/util"
	"github.com/urfave/cli/v2"
)

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "Start a tee worker process",
	Action: func(cctx *cli.Context) error {
		logs.GetLogger().Info("Start in tee worker mode.")

		repo, err := repoPath(cctx)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithCancel(cctx.Context)
		defer cancel()

		worker, err := initializer.ProjectInit(ctx, repo)
		if err != nil {
			return err
		}

		apiConf := conf.GetConfig().API
		httpStopper, err := util.ServeHttp(api.NewRouter(worker.Api), "tee-worker-api", ":"+strconv.Itoa(apiConf.Port), apiConf.CrtFile, apiConf.KeyFile)
		if err != nil {
			return err
		}

		if err = worker.Start(ctx); err != nil {
			return err
		}

		shutdownChan := make(chan struct{})
		finishCh := util.MonitorShutdown(shutdownChan,
			util.ShutdownHandler{Component: "tee-worker-api", StopFunc: httpStopper},
			util.ShutdownHandler{Component: "tee-worker", StopFunc: func(stopCtx context.Context) error {
				cancel()
				return worker.Stop(stopCtx)
			}},
		)
		<-finishCh

		return nil
	},
}
