package computing

import (
	"context"
	"time"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/lagrangedao/go-tee-worker/internal/models"
	"github.com/lagrangedao/go-tee-worker/internal/scheduler"
)

type SchedulerSession interface {
	Login(ctx context.Context) error
	Register(ctx context.Context, worker models.WorkerModel) error
	Ping(ctx context.Context) (string, error)
	GetMissedNotifications(ctx context.Context, blockNumber uint64) ([]models.TaskNotification, error)
}

type NotificationBus interface {
	Connect(ctx context.Context) bool
	Events() <-chan scheduler.Event
	Subscribe(chainTaskId string)
}

type BlockNumberReader interface {
	GetLatestBlockNumber(ctx context.Context) (uint64, error)
}

// Supervisor keeps the scheduler session alive: heartbeat, reconnect and
// recovery of the notifications missed while disconnected.
type Supervisor struct {
	session        SchedulerSession
	bus            NotificationBus
	chain          BlockNumberReader
	notifications  *TaskNotificationService
	worker         models.WorkerModel
	pingPeriod     time.Duration
	reconnectDelay time.Duration

	sessionId string
}

func NewSupervisor(session SchedulerSession, bus NotificationBus, chain BlockNumberReader, notifications *TaskNotificationService,
	worker models.WorkerModel, pingPeriod time.Duration) *Supervisor {
	return &Supervisor{
		session:        session,
		bus:            bus,
		chain:          chain,
		notifications:  notifications,
		worker:         worker,
		pingPeriod:     pingPeriod,
		reconnectDelay: 5 * time.Second,
	}
}

// Start logs in, registers the worker and opens the notification bus.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.session.Login(ctx); err != nil {
		return err
	}
	if err := s.session.Register(ctx, s.worker); err != nil {
		return err
	}
	if id, err := s.session.Ping(ctx); err == nil {
		s.sessionId = id
	}
	go s.bus.Connect(ctx)
	return nil
}

// Run consumes bus events and pings the scheduler until ctx is done.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.heartbeat(ctx)
		case e := <-s.bus.Events():
			s.onEvent(ctx, e)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) onEvent(ctx context.Context, e scheduler.Event) {
	switch e.Type {
	case scheduler.EventConnected:
		s.Recover(ctx)
	case scheduler.EventDisconnected, scheduler.EventConnectFailed:
		time.AfterFunc(s.reconnectDelay, func() {
			if ctx.Err() == nil {
				s.bus.Connect(ctx)
			}
		})
	}
}

func (s *Supervisor) heartbeat(ctx context.Context) {
	id, err := s.session.Ping(ctx)
	if err != nil {
		logs.GetLogger().Errorf("Failed ping scheduler, error: %+v", err)
		return
	}
	if s.sessionId == "" || id == s.sessionId {
		s.sessionId = id
		return
	}
	logs.GetLogger().Warnf("Scheduler session changed, previous: %s, current: %s", s.sessionId, id)
	s.sessionId = id
	if err = s.session.Login(ctx); err != nil {
		logs.GetLogger().Errorf("Failed login scheduler, error: %+v", err)
		return
	}
	if err = s.session.Register(ctx, s.worker); err != nil {
		logs.GetLogger().Errorf("Failed register worker, error: %+v", err)
	}
	go s.bus.Connect(ctx)
}

// Recover republishes the notifications the worker missed while it was not connected.
func (s *Supervisor) Recover(ctx context.Context) int {
	blockNumber, err := s.chain.GetLatestBlockNumber(ctx)
	if err != nil {
		logs.GetLogger().Errorf("Failed get latest block number, error: %+v", err)
		return 0
	}
	missed, err := s.session.GetMissedNotifications(ctx, blockNumber)
	if err != nil {
		logs.GetLogger().Errorf("Failed get missed notifications, blockNumber: %d, error: %+v", blockNumber, err)
		return 0
	}
	for _, n := range missed {
		logs.GetLogger().Infof("Recovering task, chainTaskId: %s, type: %s", n.ChainTaskId, n.Type)
		s.bus.Subscribe(n.ChainTaskId)
		s.notifications.Publish(n)
	}
	return len(missed)
}
