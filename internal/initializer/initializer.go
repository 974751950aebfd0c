package initializer

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/lagrangedao/go-tee-worker/conf"
	"github.com/lagrangedao/go-tee-worker/internal/api"
	"github.com/lagrangedao/go-tee-worker/internal/authorization"
	"github.com/lagrangedao/go-tee-worker/internal/chain"
	"github.com/lagrangedao/go-tee-worker/internal/computing"
	"github.com/lagrangedao/go-tee-worker/internal/consensus"
	"github.com/lagrangedao/go-tee-worker/internal/docker"
	"github.com/lagrangedao/go-tee-worker/internal/exitcause"
	"github.com/lagrangedao/go-tee-worker/internal/models"
	"github.com/lagrangedao/go-tee-worker/internal/pipeline"
	"github.com/lagrangedao/go-tee-worker/internal/result"
	"github.com/lagrangedao/go-tee-worker/internal/scheduler"
	"github.com/lagrangedao/go-tee-worker/internal/tee"
	"github.com/lagrangedao/go-tee-worker/wallet"
)

const downloadTimeout = 30 * time.Minute

// Worker holds every long lived service of a running worker node.
type Worker struct {
	config *conf.WorkerNode

	wallet        *wallet.LocalWallet
	chain         *chain.Client
	docker        *docker.Service
	las           *tee.LasRegistry
	bus           *scheduler.Bus
	notifications *computing.TaskNotificationService
	supervisor    *computing.Supervisor
	demand        *computing.ReplicateDemand

	Api *api.Server
}

// ProjectInit loads the repo config and builds the worker services. Nothing
// is started until Start.
func ProjectInit(ctx context.Context, repoPath string) (*Worker, error) {
	if err := conf.InitConfig(repoPath); err != nil {
		return nil, err
	}
	c := conf.GetConfig()
	walletAddress := c.Worker.WalletAddress

	localWallet, err := wallet.SetupWallet(repoPath)
	if err != nil {
		return nil, fmt.Errorf("failed open wallet, error: %w", err)
	}
	privateKey, err := localWallet.PrivateKey(walletAddress)
	if err != nil {
		_ = localWallet.Close()
		return nil, fmt.Errorf("failed load worker key, wallet: %s, error: %w", walletAddress, err)
	}
	signer := localWallet.Signer(walletAddress)

	chainClient, err := chain.NewClient(c.Chain.RpcUrl, c.Chain.HubAddress,
		chain.WithPrivateKey(privateKey),
		chain.WithMinBalance(c.Chain.MinBalance),
		chain.WithRetries(c.Chain.MaxRetries, c.Chain.RetryDelayDuration()))
	if err != nil {
		return nil, err
	}

	dockerService, err := docker.NewService(c.Docker.Host, c.Docker.Network)
	if err != nil {
		return nil, err
	}

	results := result.NewService(c.Worker.BaseDir, c.Result.ProxyUrl, resultUploader(c, signer))
	exitCauses := exitcause.NewRegistry()
	authorizations := authorization.NewService(authorizationStore(c), chainClient, walletAddress)

	las := tee.NewLasRegistry(c.Docker.Network, tee.SgxDevices(), dockerService)
	sessions := tee.NewSessionManager(tee.NewHttpSmsClient(signer), las, tee.WithDefaultSmsUrl(c.Worker.SmsUrl))

	minPull, maxPull := c.Docker.PullTimeoutBounds()
	computePipeline := pipeline.NewPipeline(dockerService, results, sessions, exitCauses,
		pipeline.NewPullTimeoutPolicy(minPull, maxPull), c.Docker.Network, c.API.WorkerHost)

	manager := computing.NewTaskManager(walletAddress, c.Worker.TeeEnabled, computing.TaskManagerDeps{
		Chain:          chainClient,
		Compute:        computePipeline,
		Downloader:     computing.NewDownloader(downloadTimeout),
		Results:        results,
		Eligibility:    consensus.NewEligibility(chainClient, results, walletAddress),
		Authorizations: authorizations,
		Tee:            sessions,
		ExitCauses:     exitCauses,
		Containers:     dockerService,
	})

	schedulerClient := scheduler.NewClient(c.Scheduler.ServerUrl, walletAddress, signer, c.Scheduler.ReportTimeoutDuration())

	var notifications *computing.TaskNotificationService
	bus := scheduler.NewBus(c.Scheduler.WsUrl, schedulerClient.Token, func(n models.TaskNotification) {
		notifications.OnNotification(n)
	})
	notifications = computing.NewTaskNotificationService(ctx, manager, authorizations, schedulerClient, bus)

	w := &Worker{
		config:        c,
		wallet:        localWallet,
		chain:         chainClient,
		docker:        dockerService,
		las:           las,
		bus:           bus,
		notifications: notifications,
		supervisor: computing.NewSupervisor(schedulerClient, bus, chainClient, notifications,
			workerModel(ctx, c, dockerService), c.Scheduler.PingInterval()),
		demand: computing.NewReplicateDemand(schedulerClient, chainClient, authorizations, manager, notifications, bus,
			c.Worker.MaxTasks, c.Worker.AskForReplicateInterval()),
		Api: api.NewServer(authorizations, exitCauses, results, notifications),
	}
	return w, nil
}

func resultUploader(c *conf.WorkerNode, signer result.Signer) result.Uploader {
	if c.Result.Provider == "mcs" {
		return &result.McsUploader{
			ApiKey:      c.MCS.ApiKey,
			AccessToken: c.MCS.AccessToken,
			Network:     c.MCS.Network,
			BucketName:  c.MCS.BucketName,
		}
	}
	return result.NewProxyClient(c.Result.ProxyUrl, c.Chain.ChainId, signer)
}

func authorizationStore(c *conf.WorkerNode) authorization.Store {
	if c.Redis.Url != "" {
		logs.GetLogger().Infof("Using redis authorization store, url: %s", c.Redis.Url)
		return authorization.NewRedisStore(authorization.NewRedisPool(c.Redis.Url, c.Redis.Password), authorization.DefaultTTL)
	}
	return authorization.NewMemoryStore(authorization.DefaultTTL)
}

func workerModel(ctx context.Context, c *conf.WorkerNode, ds *docker.Service) models.WorkerModel {
	worker := models.WorkerModel{
		Name:          c.Worker.Name,
		WalletAddress: c.Worker.WalletAddress,
		Os:            runtime.GOOS,
		Cpu:           runtime.GOARCH,
		CpuNb:         runtime.NumCPU(),
		TeeEnabled:    c.Worker.TeeEnabled,
		GpuEnabled:    c.Worker.GpuEnabled,
	}
	cpu, memory, err := ds.Resources(ctx)
	if err != nil {
		logs.GetLogger().Warnf("Failed read docker host resources, error: %+v", err)
		return worker
	}
	worker.CpuNb = cpu
	worker.MemorySize = memory
	return worker
}

// Start opens the scheduler session and starts the background loops.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.supervisor.Start(ctx); err != nil {
		return fmt.Errorf("failed start scheduler session, error: %w", err)
	}
	go w.supervisor.Run(ctx)
	go w.demand.Run(ctx)
	logs.GetLogger().Infof("Worker started, wallet: %s, maxTasks: %d, tee: %t",
		w.config.Worker.WalletAddress, w.config.Worker.MaxTasks, w.config.Worker.TeeEnabled)
	return nil
}

// Stop closes the bus, waits for queued notifications and releases shared resources.
func (w *Worker) Stop(ctx context.Context) error {
	w.bus.Close()

	done := make(chan struct{})
	go func() {
		w.notifications.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logs.GetLogger().Warnf("Stopping with tasks still running, tasks: %d", w.notifications.RunningTasks())
	}

	w.las.StopAll(ctx)
	w.docker.CleanResource(ctx)
	w.chain.Close()
	return w.wallet.Close()
}
