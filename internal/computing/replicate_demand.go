package computing

import (
	"context"
	"time"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/lagrangedao/go-tee-worker/internal/models"
)

type ReplicateSource interface {
	GetAvailableReplicate(ctx context.Context, blockNumber uint64) (*models.ReplicateTaskSummary, error)
}

// ReplicateDemand periodically asks the scheduler for new work while the
// worker has free slots.
type ReplicateDemand struct {
	source         ReplicateSource
	chain          ChainService
	authorizations AuthorizationService
	manager        *TaskManager
	notifications  *TaskNotificationService
	subscriptions  Subscriptions
	maxTasks       int
	period         time.Duration
}

func NewReplicateDemand(source ReplicateSource, chain ChainService, authorizations AuthorizationService, manager *TaskManager,
	notifications *TaskNotificationService, subscriptions Subscriptions, maxTasks int, period time.Duration) *ReplicateDemand {
	return &ReplicateDemand{
		source:         source,
		chain:          chain,
		authorizations: authorizations,
		manager:        manager,
		notifications:  notifications,
		subscriptions:  subscriptions,
		maxTasks:       maxTasks,
		period:         period,
	}
}

func (d *ReplicateDemand) Run(ctx context.Context) {
	ticker := time.NewTicker(d.period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.AskForReplicate(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// AskForReplicate returns the chainTaskId of the accepted task, empty when none.
func (d *ReplicateDemand) AskForReplicate(ctx context.Context) string {
	if d.notifications.RunningTasks() >= d.maxTasks {
		return ""
	}
	if !d.chain.HasEnoughGas(ctx) {
		logs.GetLogger().Warnf("Not asking for replicate, wallet balance is too low")
		return ""
	}
	blockNumber, err := d.chain.GetLatestBlockNumber(ctx)
	if err != nil {
		logs.GetLogger().Errorf("Failed get latest block number, error: %+v", err)
		return ""
	}

	summary, err := d.source.GetAvailableReplicate(ctx, blockNumber)
	if err != nil {
		logs.GetLogger().Errorf("Failed ask for replicate, blockNumber: %d, error: %+v", blockNumber, err)
		return ""
	}
	if summary == nil || summary.WorkerpoolAuthorization.IsEmpty() {
		return ""
	}

	auth := summary.WorkerpoolAuthorization
	chainTaskId := auth.ChainTaskId
	if !d.manager.IsTaskInitialized(ctx, chainTaskId) {
		logs.GetLogger().Warnf("Received replicate of a task not initialized on chain, chainTaskId: %s", chainTaskId)
		return ""
	}
	if !d.authorizations.PutAuthorization(ctx, auth) {
		logs.GetLogger().Warnf("Received replicate with an invalid authorization, chainTaskId: %s", chainTaskId)
		return ""
	}

	logs.GetLogger().Infof("New replicate, chainTaskId: %s, blockNumber: %d", chainTaskId, blockNumber)
	d.subscriptions.Subscribe(chainTaskId)
	d.notifications.Publish(models.TaskNotification{
		ChainTaskId: chainTaskId,
		Type:        models.PleaseStart,
		Extra:       &models.TaskNotificationExtra{BlockNumber: blockNumber, SmsUrl: summary.SmsUrl},
	})
	return chainTaskId
}
