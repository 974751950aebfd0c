package computing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/lagrangedao/go-tee-worker/internal/metrics"
	"github.com/lagrangedao/go-tee-worker/internal/models"
)

type StatusReporter interface {
	ReportStatus(ctx context.Context, chainTaskId string, update models.ReplicateStatusUpdate) (models.TaskNotificationType, error)
}

type Subscriptions interface {
	Subscribe(chainTaskId string)
	Unsubscribe(chainTaskId string)
}

type taskQueue struct {
	pending []models.TaskNotification
}

// TaskNotificationService turns notifications into TaskManager actions. The
// notifications of one task are handled in order, one at a time; different
// tasks run concurrently.
type TaskNotificationService struct {
	ctx            context.Context
	manager        *TaskManager
	authorizations AuthorizationService
	reporter       StatusReporter
	subscriptions  Subscriptions

	lk     sync.Mutex
	queues map[string]*taskQueue
	wg     sync.WaitGroup

	tasks sync.Map // chainTaskId -> *models.TaskSummary
}

func NewTaskNotificationService(ctx context.Context, manager *TaskManager, authorizations AuthorizationService,
	reporter StatusReporter, subscriptions Subscriptions) *TaskNotificationService {
	return &TaskNotificationService{
		ctx:            ctx,
		manager:        manager,
		authorizations: authorizations,
		reporter:       reporter,
		subscriptions:  subscriptions,
		queues:         make(map[string]*taskQueue),
	}
}

// OnNotification is the bus handler. Abort notifications stop the task
// containers right away, before queueing behind a running stage.
func (s *TaskNotificationService) OnNotification(n models.TaskNotification) {
	if n.ChainTaskId == "" {
		logs.GetLogger().Warnf("Ignoring notification without chainTaskId, type: %s", n.Type)
		return
	}
	if n.Type.IsAbort() {
		s.manager.StopTask(s.ctx, n.ChainTaskId)
	}
	s.Publish(n)
}

// Publish queues a notification for its task.
func (s *TaskNotificationService) Publish(n models.TaskNotification) {
	s.lk.Lock()
	defer s.lk.Unlock()
	q, ok := s.queues[n.ChainTaskId]
	if ok {
		q.pending = append(q.pending, n)
		return
	}
	s.queues[n.ChainTaskId] = &taskQueue{pending: []models.TaskNotification{n}}
	s.wg.Add(1)
	go s.drain(n.ChainTaskId)
}

func (s *TaskNotificationService) drain(chainTaskId string) {
	defer s.wg.Done()
	for {
		s.lk.Lock()
		q := s.queues[chainTaskId]
		if len(q.pending) == 0 {
			delete(s.queues, chainTaskId)
			s.lk.Unlock()
			return
		}
		n := q.pending[0]
		q.pending = q.pending[1:]
		s.lk.Unlock()

		s.handle(s.ctx, n)
		if n.Type.IsTerminal() {
			s.lk.Lock()
			if dropped := len(q.pending); dropped > 0 {
				logs.GetLogger().Infof("Dropping notifications after terminal one, chainTaskId: %s, dropped: %d", chainTaskId, dropped)
			}
			q.pending = nil
			s.lk.Unlock()
		}
	}
}

func (s *TaskNotificationService) handle(ctx context.Context, n models.TaskNotification) {
	chainTaskId := n.ChainTaskId
	metrics.NotificationsTotal.WithLabelValues(string(n.Type)).Inc()
	logs.GetLogger().Infof("Received notification, chainTaskId: %s, type: %s", chainTaskId, n.Type)

	if auth := n.Authorization(); auth != nil {
		s.authorizations.PutAuthorization(ctx, auth)
	}
	smsUrl := ""
	if n.Extra != nil {
		smsUrl = n.Extra.SmsUrl
	}
	if !n.Type.IsTerminal() {
		s.manager.SetSmsUrl(chainTaskId, smsUrl)
		s.track(chainTaskId, n.Type, "")
	}

	var result ActionResult
	switch n.Type {
	case models.PleaseStart:
		result = s.manager.Start(ctx, chainTaskId, smsUrl)
	case models.PleaseDownloadApp:
		result = s.manager.DownloadApp(ctx, chainTaskId)
	case models.PleaseDownloadData:
		result = s.manager.DownloadData(ctx, chainTaskId)
	case models.PleaseCompute:
		result = s.manager.Compute(ctx, chainTaskId)
	case models.PleaseContribute:
		result = s.manager.Contribute(ctx, chainTaskId)
	case models.PleaseReveal:
		result = s.manager.Reveal(ctx, chainTaskId)
	case models.PleaseUpload:
		result = s.manager.Upload(ctx, chainTaskId)
	case models.PleaseComplete:
		result = s.manager.Complete(ctx, chainTaskId)
	case models.PleaseAbort, models.PleaseAbortConsensusReached, models.PleaseAbortContributionTimeout:
		result = s.manager.Abort(ctx, chainTaskId, abortCause(n))
	case models.PleaseWait:
		return
	default:
		logs.GetLogger().Warnf("Unknown notification type, chainTaskId: %s, type: %s", chainTaskId, n.Type)
		return
	}

	if n.Type.IsTerminal() {
		s.subscriptions.Unsubscribe(chainTaskId)
		s.untrack(chainTaskId)
	}
	if !result.Report {
		logs.GetLogger().Infof("Nothing to report, chainTaskId: %s, type: %s", chainTaskId, n.Type)
		return
	}

	next, err := s.reporter.ReportStatus(ctx, chainTaskId, models.NewStatusUpdate(result.Status, result.Details))
	metrics.StatusReportsTotal.WithLabelValues(string(result.Status), metrics.Outcome(err)).Inc()
	if err != nil {
		logs.GetLogger().Errorf("Failed report status, chainTaskId: %s, status: %s, error: %+v", chainTaskId, result.Status, err)
		return
	}
	logs.GetLogger().Infof("Reported status, chainTaskId: %s, status: %s, next: %s", chainTaskId, result.Status, next)
	if n.Type.IsTerminal() {
		return
	}
	s.track(chainTaskId, n.Type, result.Status)
	if next == "" {
		return
	}
	s.Publish(models.TaskNotification{ChainTaskId: chainTaskId, Type: next})
}

func abortCause(n models.TaskNotification) models.ReplicateStatusCause {
	switch n.Type {
	case models.PleaseAbortConsensusReached:
		return models.CauseConsensusReached
	case models.PleaseAbortContributionTimeout:
		return models.CauseContributionTimeout
	}
	if n.Extra != nil && n.Extra.TaskAbortCause != "" {
		return n.Extra.TaskAbortCause
	}
	return models.CauseAbortedByScheduler
}

func (s *TaskNotificationService) track(chainTaskId string, notification models.TaskNotificationType, status models.ReplicateStatus) {
	summary := &models.TaskSummary{
		ChainTaskId:      chainTaskId,
		LastNotification: notification,
		IsTeeTask:        s.manager.IsTeeTask(chainTaskId),
		UpdatedAt:        time.Now(),
	}
	v, loaded := s.tasks.LoadOrStore(chainTaskId, summary)
	if !loaded {
		metrics.TasksInFlight.Inc()
		return
	}
	previous := v.(*models.TaskSummary)
	if status == "" {
		summary.LastStatus = previous.LastStatus
	} else {
		summary.LastStatus = status
	}
	s.tasks.Store(chainTaskId, summary)
}

func (s *TaskNotificationService) untrack(chainTaskId string) {
	if _, loaded := s.tasks.LoadAndDelete(chainTaskId); loaded {
		metrics.TasksInFlight.Dec()
	}
}

// Tasks returns the in-flight tasks sorted by last update.
func (s *TaskNotificationService) Tasks() []models.TaskSummary {
	var list []models.TaskSummary
	s.tasks.Range(func(_, v any) bool {
		list = append(list, *v.(*models.TaskSummary))
		return true
	})
	sort.Slice(list, func(i, j int) bool { return list[i].UpdatedAt.Before(list[j].UpdatedAt) })
	return list
}

func (s *TaskNotificationService) RunningTasks() int {
	count := 0
	s.tasks.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// Wait blocks until every queued notification is handled.
func (s *TaskNotificationService) Wait() {
	s.wg.Wait()
}
